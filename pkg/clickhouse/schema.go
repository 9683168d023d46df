package clickhouse

import "fmt"

// DatabaseDDL creates the Guardrail database.
func DatabaseDDL(database string) string {
	return fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database)
}

// LedgerDDL creates the kill ledger table. Timestamps are Unix nanoseconds
// with 0 meaning unset, so records read back hash to the stored value.
// Rows are only ever inserted; ReplacingMergeTree on sequence drops a
// duplicate append retried after a timeout.
func LedgerDDL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	sequence   UInt64,
	id         String,
	action     LowCardinality(String),
	reason     String,
	scope      String,
	created_at Int64,
	expires_at Int64,
	hash       String,
	prev_hash  String
) ENGINE = ReplacingMergeTree ORDER BY sequence`, table)
}
