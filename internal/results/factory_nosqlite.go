//go:build !sqlite

package results

import "fmt"

func newSQLiteStore(_ string) (Store, error) {
	return nil, fmt.Errorf("results: sqlite backend unavailable in this build; rebuild with -tags sqlite")
}
