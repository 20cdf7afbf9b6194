package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdmissionQueueOrdersByHeightThenReceiveTime(t *testing.T) {
	var q admissionQueue
	q.push(queueItem{name: "c", height: 7, receivedTime: 10})
	q.push(queueItem{name: "a", height: 2, receivedTime: 30})
	q.push(queueItem{name: "d", height: 7, receivedTime: 5})
	q.push(queueItem{name: "b", height: 2, receivedTime: 40})

	var names []string
	for {
		it, ok := q.pop()
		if !ok {
			break
		}
		names = append(names, it.name)
	}
	require.Equal(t, []string{"a", "b", "d", "c"}, names)
}

func TestAdmissionQueuePopEmpty(t *testing.T) {
	var q admissionQueue
	_, ok := q.pop()
	require.False(t, ok)
}
