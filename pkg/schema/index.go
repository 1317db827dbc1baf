package schema

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/openfunnel/maestro/pkg/database"
	"github.com/openfunnel/maestro/pkg/llm"
)

// Match is one retrieval hit.
type Match struct {
	Name     string
	Distance float64
}

// Index is the embedding store over the catalog. Vectors are persisted in
// sqlite and held in memory for scanning; the index is read-only after Load.
type Index struct {
	db     *database.Client
	logger *slog.Logger

	objects []vectorEntry
	fields  map[string][]vectorEntry
}

type vectorEntry struct {
	name   string
	vector []float32
}

// NewIndex creates an index over an opened schema database.
func NewIndex(db *database.Client, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{db: db, logger: logger, fields: map[string][]vectorEntry{}}
}

// Load ensures the persisted embeddings match the catalog (re-embedding when
// the catalog changed) and loads all vectors into memory.
func (i *Index) Load(ctx context.Context, catalog *Catalog, embedder llm.Embedder) error {
	fingerprint := catalogFingerprint(catalog)

	stored, err := i.storedFingerprint(ctx)
	if err != nil {
		return err
	}
	if stored != fingerprint {
		i.logger.Info("Schema catalog changed, rebuilding embeddings")
		if err := i.rebuild(ctx, catalog, embedder); err != nil {
			return err
		}
		if err := i.setFingerprint(ctx, fingerprint); err != nil {
			return err
		}
	}
	return i.loadVectors(ctx)
}

// SearchObjects returns the topK nearest entities to the query vector,
// ordered by ascending distance.
func (i *Index) SearchObjects(query []float32, topK int) []Match {
	return nearest(i.objects, query, topK)
}

// SearchFields returns the topK nearest fields of one entity.
func (i *Index) SearchFields(objectName string, query []float32, topK int) []Match {
	return nearest(i.fields[objectName], query, topK)
}

func nearest(entries []vectorEntry, query []float32, topK int) []Match {
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		matches = append(matches, Match{Name: e.name, Distance: l2Squared(e.vector, query)})
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Distance < matches[b].Distance })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// l2Squared is the squared euclidean distance, matching the convention the
// retrieval thresholds were tuned against.
func l2Squared(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for idx := 0; idx < n; idx++ {
		d := float64(a[idx]) - float64(b[idx])
		sum += d * d
	}
	if len(a) != len(b) {
		sum += math.Abs(float64(len(a) - len(b)))
	}
	return sum
}

// rebuild embeds every object and field description and replaces the stored
// vectors.
func (i *Index) rebuild(ctx context.Context, catalog *Catalog, embedder llm.Embedder) error {
	var objectTexts []string
	names := catalog.Names()
	for _, name := range names {
		obj, _ := catalog.Object(name)
		objectTexts = append(objectTexts, fmt.Sprintf("%s: %s", obj.Name, obj.Description))
	}
	objectVectors, err := embedder.EmbedBatch(ctx, objectTexts)
	if err != nil {
		return fmt.Errorf("embed objects: %w", err)
	}

	tx, err := i.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM object_embeddings`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM field_embeddings`); err != nil {
		return err
	}

	for idx, name := range names {
		obj, _ := catalog.Object(name)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO object_embeddings (object_name, description, vector) VALUES (?, ?, ?)`,
			obj.Name, obj.Description, encodeVector(objectVectors[idx])); err != nil {
			return err
		}
	}

	for _, name := range names {
		obj, _ := catalog.Object(name)
		var fieldTexts []string
		for _, f := range obj.Fields {
			fieldTexts = append(fieldTexts, fmt.Sprintf("%s.%s (%s): %s", obj.Name, f.Name, f.Type, f.Description))
		}
		vectors, err := embedder.EmbedBatch(ctx, fieldTexts)
		if err != nil {
			return fmt.Errorf("embed fields of %s: %w", obj.Name, err)
		}
		for idx, f := range obj.Fields {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO field_embeddings (object_name, field_name, vector) VALUES (?, ?, ?)`,
				obj.Name, f.Name, encodeVector(vectors[idx])); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (i *Index) loadVectors(ctx context.Context) error {
	i.objects = nil
	i.fields = map[string][]vectorEntry{}

	rows, err := i.db.DB().QueryContext(ctx, `SELECT object_name, vector FROM object_embeddings`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return err
		}
		i.objects = append(i.objects, vectorEntry{name: name, vector: decodeVector(blob)})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fieldRows, err := i.db.DB().QueryContext(ctx, `SELECT object_name, field_name, vector FROM field_embeddings`)
	if err != nil {
		return err
	}
	defer fieldRows.Close()
	for fieldRows.Next() {
		var objectName, fieldName string
		var blob []byte
		if err := fieldRows.Scan(&objectName, &fieldName, &blob); err != nil {
			return err
		}
		i.fields[objectName] = append(i.fields[objectName], vectorEntry{name: fieldName, vector: decodeVector(blob)})
	}
	if err := fieldRows.Err(); err != nil {
		return err
	}

	i.logger.Info("Schema index loaded", "objects", len(i.objects))
	return nil
}

func (i *Index) storedFingerprint(ctx context.Context) (string, error) {
	var value string
	err := i.db.DB().QueryRowContext(ctx,
		`SELECT value FROM index_meta WHERE key = 'catalog_fingerprint'`).Scan(&value)
	if err != nil {
		return "", nil
	}
	return value, nil
}

func (i *Index) setFingerprint(ctx context.Context, fingerprint string) error {
	_, err := i.db.DB().ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES ('catalog_fingerprint', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fingerprint)
	return err
}

// catalogFingerprint hashes the catalog content so a changed schema file
// triggers a re-embed.
func catalogFingerprint(catalog *Catalog) string {
	h := sha256.New()
	for _, name := range catalog.Names() {
		obj, _ := catalog.Object(name)
		fmt.Fprintf(h, "%s|%s\n", obj.Name, obj.Description)
		for _, f := range obj.Fields {
			fmt.Fprintf(h, "  %s|%s|%s|%v|%s\n", f.Name, f.Type, f.Description, f.NeedValue, f.Default)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(blob []byte) []float32 {
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v
}
