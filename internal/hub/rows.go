package hub

import (
	"fmt"
	"sort"
	"strings"
)

// Row is one durable-store row as loose JSON-shaped data. The client
// parses rows into typed structs at its adapter boundary.
type Row = map[string]any

// tableColumns whitelists the tables the row API exposes and their
// columns. Anything outside this map is rejected before touching SQL.
var tableColumns = map[string]map[string]bool{
	"rooms": {
		"id": true, "name": true, "created_by": true, "created_at": true,
	},
	"messages": {
		"id": true, "room_id": true, "user_email": true, "content": true,
		"created_at": true, "edited_at": true,
		"file_url": true, "file_name": true, "file_type": true, "file_size": true,
	},
	"message_reactions": {
		"message_id": true, "user_email": true, "emoji": true, "created_at": true,
	},
	"profiles": {
		"user_email": true, "display_name": true, "avatar": true, "bio": true,
	},
}

// ValidTable reports whether the row API exposes the given table.
func ValidTable(table string) bool {
	_, ok := tableColumns[table]
	return ok
}

func checkColumns(table string, cols map[string]any) error {
	allowed, ok := tableColumns[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	for c := range cols {
		if !allowed[c] {
			return fmt.Errorf("unknown column %q on table %q", c, table)
		}
	}
	return nil
}

// whereClause builds an equality WHERE clause from a filter map with
// deterministic column order. An empty filter matches everything.
func whereClause(filter map[string]any) (string, []any) {
	if len(filter) == 0 {
		return "", nil
	}
	cols := make([]string, 0, len(filter))
	for c := range filter {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var parts []string
	var args []any
	for _, c := range cols {
		if filter[c] == nil {
			parts = append(parts, c+" IS NULL")
			continue
		}
		parts = append(parts, c+" = ?")
		args = append(args, filter[c])
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// parseOrder validates an "column asc|desc" order expression.
func parseOrder(table, order string) (string, error) {
	if order == "" {
		return "", nil
	}
	fields := strings.Fields(strings.ToLower(order))
	if len(fields) == 0 || len(fields) > 2 {
		return "", fmt.Errorf("bad order expression %q", order)
	}
	if err := checkColumns(table, map[string]any{fields[0]: nil}); err != nil {
		return "", err
	}
	dir := "ASC"
	if len(fields) == 2 {
		switch fields[1] {
		case "asc":
		case "desc":
			dir = "DESC"
		default:
			return "", fmt.Errorf("bad order direction %q", fields[1])
		}
	}
	return " ORDER BY " + fields[0] + " " + dir, nil
}

// SelectRows returns rows from a table matching an equality filter,
// optionally ordered and limited.
func (db *DB) SelectRows(table string, filter map[string]any, order string, limit int) ([]Row, error) {
	if err := checkColumns(table, filter); err != nil {
		return nil, err
	}
	orderSQL, err := parseOrder(table, order)
	if err != nil {
		return nil, err
	}

	where, args := whereClause(filter)
	query := "SELECT * FROM " + table + where + orderSQL
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			switch v := vals[i].(type) {
			case []byte:
				row[c] = string(v)
			default:
				row[c] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// InsertRows inserts the given rows and returns them as stored.
func (db *DB) InsertRows(table string, rows []Row) ([]Row, error) {
	if !ValidTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range rows {
		if err := checkColumns(table, row); err != nil {
			return nil, err
		}
		if len(row) == 0 {
			return nil, fmt.Errorf("empty row for table %q", table)
		}
		cols := make([]string, 0, len(row))
		for c := range row {
			cols = append(cols, c)
		}
		sort.Strings(cols)

		args := make([]any, 0, len(cols))
		for _, c := range cols {
			args = append(args, row[c])
		}
		query := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (?" +
			strings.Repeat(", ?", len(cols)-1) + ")"
		if _, err := tx.Exec(query, args...); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateRows applies a patch to all rows matching the filter. Last write
// wins at the row level; there is no concurrency token. Returns the rows
// after the update.
func (db *DB) UpdateRows(table string, patch, filter map[string]any) ([]Row, error) {
	if err := checkColumns(table, patch); err != nil {
		return nil, err
	}
	if err := checkColumns(table, filter); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("empty patch for table %q", table)
	}

	cols := make([]string, 0, len(patch))
	for c := range patch {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var sets []string
	var args []any
	for _, c := range cols {
		sets = append(sets, c+" = ?")
		args = append(args, patch[c])
	}
	where, whereArgs := whereClause(filter)
	args = append(args, whereArgs...)

	if _, err := db.Exec("UPDATE "+table+" SET "+strings.Join(sets, ", ")+where, args...); err != nil {
		return nil, err
	}
	return db.SelectRows(table, filter, "", 0)
}

// DeleteRows removes all rows matching the filter and returns the rows
// that were deleted.
func (db *DB) DeleteRows(table string, filter map[string]any) ([]Row, error) {
	if err := checkColumns(table, filter); err != nil {
		return nil, err
	}
	old, err := db.SelectRows(table, filter, "", 0)
	if err != nil {
		return nil, err
	}
	where, args := whereClause(filter)
	if _, err := db.Exec("DELETE FROM "+table+where, args...); err != nil {
		return nil, err
	}
	return old, nil
}
