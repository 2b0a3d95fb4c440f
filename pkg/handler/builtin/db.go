package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/handler/builtin/dbfs"
	"github.com/dipeo/core/pkg/resolve"
)

// DB executes put/get/list/delete operations against a dbfs.Store,
// grounded on the teacher's FileStorageExecutor.
type DB struct {
	stores *dbfs.Registry
}

// NewDB builds a DB handler resolving storage_id against stores.
func NewDB(stores *dbfs.Registry) *DB {
	return &DB{stores: stores}
}

func (h *DB) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	action, err := cfg.String("action")
	if err != nil {
		return nil, fmt.Errorf("db %s: action is required: %w", hctx.Node.ID, err)
	}

	store, err := h.stores.Get(cfg.StringDefault("storage_id", ""))
	if err != nil {
		return nil, fmt.Errorf("db %s: %w", hctx.Node.ID, err)
	}

	start := time.Now()
	var result map[string]any
	switch action {
	case "put":
		result, err = h.put(ctx, store, cfg, in)
	case "get":
		result, err = h.get(ctx, store, cfg)
	case "delete":
		result, err = h.delete(ctx, store, cfg)
	case "list":
		result, err = h.list(ctx, store, cfg)
	default:
		return nil, fmt.Errorf("db %s: unsupported action %q", hctx.Node.ID, action)
	}
	if err != nil {
		return nil, fmt.Errorf("db %s: %s failed: %w", hctx.Node.ID, action, err)
	}
	result["action"] = action
	result["duration_ms"] = time.Since(start).Milliseconds()

	out := envelope.New(result, envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
}

func (h *DB) put(ctx context.Context, store dbfs.Store, cfg handler.Config, in resolve.Input) (map[string]any, error) {
	id := cfg.StringDefault("file_id", uuid.NewString())
	mimeType := cfg.StringDefault("mime_type", "application/octet-stream")
	tags, _ := cfg.StringSlice("tags")

	var data []byte
	if raw, ok := cfg["file_data"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("file_data must be a base64 string")
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode file_data: %w", err)
		}
		data = decoded
	} else {
		env, ok := in.First(diagram.HandleDefault)
		if !ok {
			return nil, fmt.Errorf("no file_data in config and no inbound envelope")
		}
		text, err := env.AsText()
		if err != nil {
			data = []byte(fmt.Sprintf("%v", env.Body()))
		} else {
			data = []byte(text)
		}
	}

	if err := store.Put(ctx, id, mimeType, data, tags); err != nil {
		return nil, err
	}
	return map[string]any{"file_id": id, "mime_type": mimeType, "size": len(data)}, nil
}

func (h *DB) get(ctx context.Context, store dbfs.Store, cfg handler.Config) (map[string]any, error) {
	id, err := cfg.String("file_id")
	if err != nil {
		return nil, err
	}
	r, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"file_id":   r.ID,
		"mime_type": r.MimeType,
		"file_data": base64.StdEncoding.EncodeToString(r.Data),
		"tags":      r.Tags,
	}, nil
}

func (h *DB) delete(ctx context.Context, store dbfs.Store, cfg handler.Config) (map[string]any, error) {
	id, err := cfg.String("file_id")
	if err != nil {
		return nil, err
	}
	if err := store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"file_id": id, "deleted": true}, nil
}

func (h *DB) list(ctx context.Context, store dbfs.Store, cfg handler.Config) (map[string]any, error) {
	records, err := store.List(ctx, cfg.StringDefault("tag", ""))
	if err != nil {
		return nil, err
	}
	files := make([]map[string]any, 0, len(records))
	for _, r := range records {
		files = append(files, map[string]any{
			"file_id":   r.ID,
			"mime_type": r.MimeType,
			"tags":      r.Tags,
		})
	}
	return map[string]any{"files": files}, nil
}
