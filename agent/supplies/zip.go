package supplies

// ZipRows merges parallel table columns into rows by position. Columns of
// unequal length are truncated to the shortest one: a row exists only when
// every column has a value at that index. No columns yields no rows.
func ZipRows(columns ...[]string) [][]string {
	if len(columns) == 0 {
		return nil
	}
	n := len(columns[0])
	for _, c := range columns[1:] {
		if len(c) < n {
			n = len(c)
		}
	}
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = c[i]
		}
		rows[i] = row
	}
	return rows
}
