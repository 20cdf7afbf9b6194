package graphql

// schemaString is the hand-written GraphQL schema served over the POST
// endpoint. Amount-typed fields are strings: nano-unit quantities exceed
// GraphQL's 32-bit Int.
const schemaString = `
schema {
	query: Query
}

type Query {
	blocks(query: BlockQueryInput, limit: Int, sortBy: BlockSortBy): [Block!]!
	block(stateHash: String!): Block
	account(publicKey: String!, height: Int): Account
	summary: Summary!
	stakingLedger(epoch: Int!, ledgerHash: String!): StakingLedger
}

enum BlockSortBy {
	BLOCKHEIGHT_ASC
	BLOCKHEIGHT_DESC
}

input BlockQueryInput {
	stateHash: String
	canonical: Boolean
	creator: String
	coinbaseReceiver: String
	blockHeight: Int
	blockHeight_gt: Int
	blockHeight_gte: Int
	blockHeight_lt: Int
	blockHeight_lte: Int
	protocolState: ProtocolStateQueryInput
}

input ProtocolStateQueryInput {
	consensusState: ConsensusStateQueryInput
}

input ConsensusStateQueryInput {
	slotSinceGenesis: Int
	slotSinceGenesis_gt: Int
	slotSinceGenesis_gte: Int
	slotSinceGenesis_lt: Int
	slotSinceGenesis_lte: Int
}

type Block {
	stateHash: String!
	previousStateHash: String!
	blockHeight: Int!
	canonical: Boolean!
	creator: String!
	coinbaseReceiver: String!
	epoch: Int!
	dateTime: String!
	receivedTime: String!
	txFees: String!
	snarkFees: String!
	protocolState: ProtocolState!
	transactions: Transactions!
	snarkJobs: [SnarkJob!]!
}

type ProtocolState {
	previousStateHash: String!
	consensusState: ConsensusState!
}

type ConsensusState {
	blockHeight: Int!
	slotSinceGenesis: Int!
	epoch: Int!
	lastVrfOutput: String!
	blockCreator: String!
	coinbaseReceiver: String!
}

type Transactions {
	coinbase: String!
	userCommands: [UserCommand!]!
	feeTransfer: [FeeTransfer!]!
}

type UserCommand {
	kind: String!
	from: String!
	to: String!
	amount: String!
	fee: String!
	nonce: Int!
	memo: String!
	failureReason: String
	blockHeight: Int!
	blockStateHash: String!
}

type FeeTransfer {
	recipient: String!
	fee: String!
	type: String!
}

type SnarkJob {
	prover: String!
	fee: String!
	blockHeight: Int!
	blockStateHash: String!
}

type Account {
	publicKey: String!
	balance: String!
	nonce: Int!
	delegate: String!
	votingFor: String!
	receiptChainHash: String!
	totalEverReceived: String!
	delegatedBalance: String!
}

type Summary {
	bestStateHash: String!
	bestHeight: Int!
	rootStateHash: String!
	rootHeight: Int!
	epoch: Int!
	numBlocks: String!
	numUserCommands: String!
	numInternalCommands: String!
	numSnarks: String!
}

type StakingLedger {
	epoch: Int!
	ledgerHash: String!
	entries: [StakingLedgerEntry!]!
}

type StakingLedgerEntry {
	publicKey: String!
	balance: String!
	delegate: String!
}
`
