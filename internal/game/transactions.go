package game

import "time"

// AppendTransaction returns log with tx added at the end. The log is append-only;
// callers never edit or reorder past entries.
func AppendTransaction(log []Transaction, tx Transaction) []Transaction {
	out := make([]Transaction, len(log), len(log)+1)
	copy(out, log)
	return append(out, tx)
}

// TransactionByKey finds the trade submitted with idempotency key. An empty key never matches.
func TransactionByKey(log []Transaction, key string) (Transaction, bool) {
	if key == "" {
		return Transaction{}, false
	}
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].IdempotencyKey == key {
			return log[i], true
		}
	}
	return Transaction{}, false
}

// TransactionsSince returns the entries at or after since, oldest first.
func TransactionsSince(log []Transaction, since time.Time) []Transaction {
	var out []Transaction
	for _, tx := range log {
		if !tx.At.Before(since) {
			out = append(out, tx)
		}
	}
	return out
}
