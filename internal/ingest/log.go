package ingest

import "github.com/sirupsen/logrus"

var log = logrus.WithField("prefix", "ingest")
