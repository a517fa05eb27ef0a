package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/openfield/collect/internal/api"
	"github.com/openfield/collect/internal/db"
	"github.com/openfield/collect/internal/middleware"
	"github.com/openfield/collect/internal/utils"
)

func main() {
	addr := utils.SafeEnv("OPENFIELD_ADDR", ":8080")
	commit := os.Getenv("OPENFIELD_COMMIT")
	buildTime := os.Getenv("OPENFIELD_BUILD_TIME")

	store := openStore()

	mux := http.NewServeMux()
	api.NewRouter(store).Register(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "OpenField Collect API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	// Dashboard static assets when bundled into the image.
	if staticDir := os.Getenv("OPENFIELD_STATIC_DIR"); staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}

	handler := middleware.SecureHeaders(middleware.CORS(middleware.NoStore(middleware.RequestID(middleware.WithAuth(mux)))))

	log.Printf("OpenField Collect server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// openStore picks SQLite when OPENFIELD_DB_PATH is set, otherwise an empty
// in-memory store (POST /api/seed loads demo records into it).
func openStore() api.Store {
	path := os.Getenv("OPENFIELD_DB_PATH")
	if path == "" {
		log.Printf("OPENFIELD_DB_PATH not set, using in-memory store")
		return api.NewMemoryStore()
	}
	conn, err := db.Open(path)
	if err != nil {
		log.Fatalf("open database %s: %v", path, err)
	}
	if err := db.RunMigrations(conn, os.Getenv("OPENFIELD_MIGRATIONS_DIR")); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	store, err := db.NewStore(conn)
	if err != nil {
		log.Fatalf("init sqlite store: %v", err)
	}
	log.Printf("using sqlite store at %s", path)
	return store
}
