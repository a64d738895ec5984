package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"

	"github.com/stackforge/convergence/internal/convergeerr"
)

// buildSet renders a deterministic "col1 = $n, col2 = $n+1, ..." clause
// from a values map, starting placeholder numbering at startAt, and
// returns the column values in the matching order.
func buildSet(values map[string]interface{}, startAt int) (string, []interface{}) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	set := ""
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		if i > 0 {
			set += ", "
		}
		set += fmt.Sprintf("%s = $%d", k, startAt+i)
		args = append(args, values[k])
	}
	return set, args
}

func checkRowsAffected(res sql.Result, kind convergeerr.NotFoundKind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &convergeerr.NotFound{Kind: kind, Key: key}
	}
	return nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
