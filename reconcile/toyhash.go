package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"github.com/kasuganosora/guildsync/directory"
	"github.com/kasuganosora/guildsync/model"
	"go.uber.org/zap"
)

// NoToysHash is stored for characters known to own no toys, whether the
// toy collection link is missing, the list is empty or the directory
// answers 404. It is not the digest of any id list.
var NoToysHash = strings.Repeat("0", 64)

// ToyHashResolver derives a clustering key for unlinked characters from
// their collected toy ids.
type ToyHashResolver struct {
	dir    DirectoryClient
	logger *zap.Logger
}

func NewToyHashResolver(dir DirectoryClient, logger *zap.Logger) *ToyHashResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToyHashResolver{dir: dir, logger: logger}
}

// Resolve returns the toy hash of ch. ok is false when the hash is
// unknown: the character is linked, its identity is incomplete, or a
// fetch failed with something other than not-found.
func (r *ToyHashResolver) Resolve(ctx context.Context, ch *model.Character) (hash string, ok bool) {
	if ch.Linked() || !ch.HasIdentity() {
		return "", false
	}

	idx, err := r.dir.GetCharacterCollectionsIndex(ctx, ch.Region, ch.Realm, ch.Name)
	if directory.IsNotFound(err) {
		return NoToysHash, true
	}
	if err != nil {
		r.logger.Warn("toy hash: collections index failed",
			zap.Int64("character_id", ch.ID), zap.Error(err))
		return "", false
	}
	if idx.Toys == nil || idx.Toys.Href == "" {
		return NoToysHash, true
	}

	raw, err := r.dir.GetGenericData(ctx, idx.Toys.Href, "toys:"+strconv.FormatInt(ch.ID, 10))
	if directory.IsNotFound(err) {
		return NoToysHash, true
	}
	if err != nil {
		r.logger.Warn("toy hash: toy list failed",
			zap.Int64("character_id", ch.ID), zap.Error(err))
		return "", false
	}

	var toys directory.ToyCollection
	if err := json.Unmarshal(raw, &toys); err != nil {
		r.logger.Warn("toy hash: toy list undecodable",
			zap.Int64("character_id", ch.ID), zap.Error(err))
		return "", false
	}
	ids := toys.IDs()
	if len(ids) == 0 {
		return NoToysHash, true
	}
	return HashToyIDs(ids), true
}

// HashToyIDs returns the hex SHA-256 of the ids sorted ascending and
// comma-joined. Duplicates are kept.
func HashToyIDs(ids []int64) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:])
}
