package tool

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// TableStore opens and caches the per-workspace tabular user-data
// database at Paths.RelationalDB (distinct from the tenant-wide identity/
// reminders/flows RelationalStore; this is free-form data the model
// creates on the user's behalf, spec.md §4.2 "tabular user data").
type TableStore struct {
	mu    sync.Mutex
	dbs   map[string]*sql.DB
	dbFor func(workspaceID string) (string, error)
}

// NewTableStore returns a TableStore that resolves the sqlite file path
// for a workspace via dbFor (typically storage.Router.Resolve(...).RelationalDB).
func NewTableStore(dbFor func(workspaceID string) (string, error)) *TableStore {
	return &TableStore{dbs: map[string]*sql.DB{}, dbFor: dbFor}
}

func (s *TableStore) handle(workspaceID string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[workspaceID]; ok {
		return db, nil
	}
	path, err := s.dbFor(workspaceID)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("table_tools: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s.dbs[workspaceID] = db
	return db, nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(s string) bool { return identRe.MatchString(s) }

type createTableArgs struct {
	Table   string   `json:"table" jsonschema:"required,description=Table name"`
	Columns []string `json:"columns" jsonschema:"required,description=Column names (all stored as TEXT)"`
}

type insertRowArgs struct {
	Table  string         `json:"table" jsonschema:"required,description=Table name"`
	Values map[string]any `json:"values" jsonschema:"required,description=Column name to value map"`
}

type queryRowsArgs struct {
	Table string `json:"table" jsonschema:"required,description=Table name"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max rows to return,default=50"`
}

// RegisterTableTools wires create_table/insert_row/query_rows against the
// per-workspace tabular store.
func RegisterTableTools(r *Registry, store *TableStore) error {
	createSchema, err := SchemaFor[createTableArgs]()
	if err != nil {
		return err
	}
	insertSchema, err := SchemaFor[insertRowArgs]()
	if err != nil {
		return err
	}
	querySchema, err := SchemaFor[queryRowsArgs]()
	if err != nil {
		return err
	}

	if err := r.Register("create_table", Tool{
		Name:        "create_table",
		Description: "Create a user-defined table for structured data in the current workspace.",
		Schema:      createSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			table, _ := args["table"].(string)
			if !validIdent(table) {
				return "", fmt.Errorf("create_table: invalid table name %q", table)
			}
			rawCols, _ := args["columns"].([]any)
			cols := make([]string, 0, len(rawCols))
			for _, c := range rawCols {
				name, _ := c.(string)
				if !validIdent(name) {
					return "", fmt.Errorf("create_table: invalid column name %q", name)
				}
				cols = append(cols, fmt.Sprintf("%q TEXT", name))
			}
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %q (id INTEGER PRIMARY KEY AUTOINCREMENT%s)",
				table, commaPrefixed(cols))
			if _, err := db.ExecContext(cc.Context, stmt); err != nil {
				return "", fmt.Errorf("create_table: %w", err)
			}
			return fmt.Sprintf("table %q ready", table), nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register("insert_row", Tool{
		Name:        "insert_row",
		Description: "Insert a row into a user-defined table.",
		Schema:      insertSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			table, _ := args["table"].(string)
			if !validIdent(table) {
				return "", fmt.Errorf("insert_row: invalid table name %q", table)
			}
			values, _ := args["values"].(map[string]any)
			cols := make([]string, 0, len(values))
			placeholders := make([]string, 0, len(values))
			vals := make([]any, 0, len(values))
			for k, v := range values {
				if !validIdent(k) {
					return "", fmt.Errorf("insert_row: invalid column name %q", k)
				}
				cols = append(cols, fmt.Sprintf("%q", k))
				placeholders = append(placeholders, "?")
				vals = append(vals, fmt.Sprint(v))
			}
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(cols, ","), strings.Join(placeholders, ","))
			res, err := db.ExecContext(cc.Context, stmt, vals...)
			if err != nil {
				return "", fmt.Errorf("insert_row: %w", err)
			}
			id, _ := res.LastInsertId()
			return fmt.Sprintf("inserted row id=%d", id), nil
		},
	}); err != nil {
		return err
	}

	return r.Register("query_rows", Tool{
		Name:        "query_rows",
		Description: "Query rows from a user-defined table, returned as JSON.",
		Schema:      querySchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			table, _ := args["table"].(string)
			if !validIdent(table) {
				return "", fmt.Errorf("query_rows: invalid table name %q", table)
			}
			limit := 50
			if l, ok := args["limit"]; ok {
				if li, ok := l.(int64); ok && li > 0 {
					limit = int(li)
				}
			}
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			rows, err := db.QueryContext(cc.Context, fmt.Sprintf("SELECT * FROM %q LIMIT ?", table), limit)
			if err != nil {
				return "", fmt.Errorf("query_rows: %w", err)
			}
			defer rows.Close()

			cols, err := rows.Columns()
			if err != nil {
				return "", err
			}
			var out []map[string]any
			for rows.Next() {
				raw := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range raw {
					ptrs[i] = &raw[i]
				}
				if err := rows.Scan(ptrs...); err != nil {
					return "", err
				}
				row := map[string]any{}
				for i, c := range cols {
					row[c] = raw[i]
				}
				out = append(out, row)
			}
			data, err := json.Marshal(out)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	})
}

func commaPrefixed(cols []string) string {
	if len(cols) == 0 {
		return ""
	}
	return ", " + strings.Join(cols, ", ")
}
