//go:build sqlite

package results

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
