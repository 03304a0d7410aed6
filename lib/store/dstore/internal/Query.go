package internal

// QueryType selects the read performed by the state machine's Lookup
type QueryType uint8

const (
	QueryTGet QueryType = iota
	QueryTHas
	QueryTGetDBInfo
)

var queryTypeNames = [...]string{
	QueryTGet:       "Get",
	QueryTHas:       "Has",
	QueryTGetDBInfo: "GetDBInfo",
}

func (q QueryType) String() string {
	if int(q) < len(queryTypeNames) {
		return queryTypeNames[q]
	}
	return "Unknown"
}

// Query is a read-only request answered by Lookup through SyncRead. Reads are
// linearizable, a version marker read by the cache is never older than the
// last swap acknowledged to any node.
type Query struct {
	Type QueryType
	Key  string
	// Now is the reader's clock in unix nanos, entries expired at Now are absent
	Now int64
}

// QueryResult answers QueryTGet. QueryTHas answers with a bool and
// QueryTGetDBInfo with a db.DatabaseInfo.
type QueryResult struct {
	Ok    bool
	Value []byte
}
