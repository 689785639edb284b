package tool

import (
	"fmt"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
)

// KBStore opens and caches a per-workspace embedded vector database at
// Paths.VectorDB, grounded on original_source/src/cassey/storage/kb_tools.py's
// SeekDB collections but backed by the pack's pure-Go chromem-go store.
type KBStore struct {
	mu     sync.Mutex
	dbs    map[string]*chromem.DB
	dirFor func(workspaceID string) (string, error)
}

func NewKBStore(dirFor func(workspaceID string) (string, error)) *KBStore {
	return &KBStore{dbs: map[string]*chromem.DB{}, dirFor: dirFor}
}

func (s *KBStore) handle(workspaceID string) (*chromem.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[workspaceID]; ok {
		return db, nil
	}
	dir, err := s.dirFor(workspaceID)
	if err != nil {
		return nil, err
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("kb_tools: open vector db at %s: %w", dir, err)
	}
	s.dbs[workspaceID] = db
	return db, nil
}

type createKBArgs struct {
	CollectionName string `json:"collection_name" jsonschema:"required,description=Collection name (letters/numbers/underscore)"`
}

type searchKBArgs struct {
	Query          string `json:"query" jsonschema:"required,description=Search query"`
	CollectionName string `json:"collection_name,omitempty" jsonschema:"description=Restrict search to this collection; searches all if omitted"`
	Limit          int    `json:"limit,omitempty" jsonschema:"description=Max results,default=5"`
}

type addKBDocsArgs struct {
	CollectionName string   `json:"collection_name" jsonschema:"required"`
	Documents      []string `json:"documents" jsonschema:"required,description=Document text contents to add"`
}

type dropKBArgs struct {
	CollectionName string `json:"collection_name" jsonschema:"required"`
}

// RegisterKBTools wires create_kb_collection/search_kb/kb_list/
// add_kb_documents/drop_kb_collection against the per-workspace KBStore.
func RegisterKBTools(r *Registry, store *KBStore) error {
	createSchema, err := SchemaFor[createKBArgs]()
	if err != nil {
		return err
	}
	searchSchema, err := SchemaFor[searchKBArgs]()
	if err != nil {
		return err
	}
	addSchema, err := SchemaFor[addKBDocsArgs]()
	if err != nil {
		return err
	}
	dropSchema, err := SchemaFor[dropKBArgs]()
	if err != nil {
		return err
	}

	if err := r.Register("create_kb_collection", Tool{
		Name: "create_kb_collection", Description: "Create a knowledge base collection for semantic search.",
		Schema: createSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			name, _ := args["collection_name"].(string)
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			if _, err := db.CreateCollection(name, nil, nil); err != nil {
				return "", fmt.Errorf("create_kb_collection: %w", err)
			}
			return fmt.Sprintf("Created KB collection %q", name), nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register("add_kb_documents", Tool{
		Name: "add_kb_documents", Description: "Add documents to an existing knowledge base collection.",
		Schema: addSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			name, _ := args["collection_name"].(string)
			docsRaw, _ := args["documents"].([]any)
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			coll := db.GetCollection(name, nil)
			if coll == nil {
				return "", fmt.Errorf("add_kb_documents: collection %q not found", name)
			}
			docs := make([]chromem.Document, 0, len(docsRaw))
			for i, d := range docsRaw {
				content, _ := d.(string)
				docs = append(docs, chromem.Document{ID: fmt.Sprintf("%s-%d", name, i), Content: content})
			}
			if err := coll.AddDocuments(cc.Context, docs, 1); err != nil {
				return "", fmt.Errorf("add_kb_documents: %w", err)
			}
			return fmt.Sprintf("Added %d documents to %q", len(docs), name), nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register("search_kb", Tool{
		Name: "search_kb", Description: "Search knowledge base collections for relevant documents.",
		Schema: searchSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			collectionName, _ := args["collection_name"].(string)
			limit := 5
			if l, ok := args["limit"].(int64); ok && l > 0 {
				limit = int(l)
			}
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}

			var names []string
			if collectionName != "" {
				names = []string{collectionName}
			} else {
				for n := range db.ListCollections() {
					names = append(names, n)
				}
			}
			if len(names) == 0 {
				return "No KB collections found. Use create_kb_collection first.", nil
			}

			var lines []string
			for _, name := range names {
				coll := db.GetCollection(name, nil)
				if coll == nil {
					continue
				}
				n := limit
				if coll.Count() < n {
					n = coll.Count()
				}
				if n == 0 {
					continue
				}
				results, err := coll.Query(cc.Context, query, n, nil, nil)
				if err != nil {
					continue
				}
				if len(results) == 0 {
					continue
				}
				lines = append(lines, fmt.Sprintf("--- From %q ---", name))
				for _, res := range results {
					lines = append(lines, fmt.Sprintf("[%.2f] (id: %s) %s", res.Similarity, res.ID, res.Content))
				}
			}
			if len(lines) == 0 {
				return fmt.Sprintf("No matches found for query: %s", query), nil
			}
			return "Search results for \"" + query + "\":\n\n" + strings.Join(lines, "\n"), nil
		},
	}); err != nil {
		return err
	}

	if err := r.Register("kb_list", Tool{
		Name: "kb_list", Description: "List knowledge base collections with document counts.",
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			collections := db.ListCollections()
			if len(collections) == 0 {
				return "Knowledge Base is empty. Use create_kb_collection to create a collection.", nil
			}
			lines := []string{"Knowledge Base collections:"}
			for name, coll := range collections {
				lines = append(lines, fmt.Sprintf("- %s: %d documents", name, coll.Count()))
			}
			return strings.Join(lines, "\n"), nil
		},
	}); err != nil {
		return err
	}

	return r.Register("drop_kb_collection", Tool{
		Name: "drop_kb_collection", Description: "Delete a knowledge base collection.",
		Schema: dropSchema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			name, _ := args["collection_name"].(string)
			db, err := store.handle(cc.WorkspaceID)
			if err != nil {
				return "", err
			}
			count := 0
			if coll := db.GetCollection(name, nil); coll != nil {
				count = coll.Count()
			}
			if err := db.DeleteCollection(name); err != nil {
				return "", fmt.Errorf("drop_kb_collection: %w", err)
			}
			return fmt.Sprintf("Deleted KB collection %q (%d documents removed)", name, count), nil
		},
	})
}
