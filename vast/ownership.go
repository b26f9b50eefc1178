package vast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MannyJMusic/dfl-desktop/logger"
)

// ownedFlagKeys are boolean-ish flags a listing may use to mark a template
// as belonging to the caller.
var ownedFlagKeys = []string{"is_owner", "mine", "owned", "is_mine", "my_template"}

// callerIDKeys are the fields compared against the caller's own user id.
var callerIDKeys = []string{"user_id", "owner_id", "creator_id", "created_by", "userid"}

// overrideIDKeys are the fields compared against a configured owner override.
var overrideIDKeys = []string{"creator_id", "owner_id", "created_by", "user_id"}

// ownerFilterKeys are the server-side filter spellings tried when seeding
// the cache by owner id.
var ownerFilterKeys = []string{"owner_id", "creator_id", "created_by", "user_id", "author_id"}

// userIDKeys are the fields probed on the account record for the caller id.
var userIDKeys = []string{"id", "user_id", "userid"}

// Resolver classifies templates as owned-by-caller or not. The vastai API
// has no single authoritative ownership field, so classification layers
// several heuristics over a cache seeded from owned-template queries.
//
// A Resolver is safe for concurrent use; all state is guarded by one mutex.
type Resolver struct {
	client     *Client
	overrideID string
	log        *slog.Logger

	mu sync.Mutex
	// identities and names of templates known to be the caller's.
	myIdentities map[string]struct{}
	myNames      map[string]struct{}
	// caller id from `show user`. Resolved at most once; a failed lookup
	// is cached as "" and never retried.
	userID         string
	userIDResolved bool
	// seeding runs at most once per cache generation even when the final
	// listing fails, so a flaky seed query is not hammered on every call.
	attemptedSeed  bool
	cacheValid     bool
	myTemplates    []Record
	otherTemplates []Record
}

// NewResolver creates a resolver. overrideID, when non-empty, is treated as
// the caller's account id without consulting `show user`.
func NewResolver(client *Client, overrideID string) *Resolver {
	return &Resolver{
		client:       client,
		overrideID:   overrideID,
		log:          logger.WithComponent("ownership"),
		myIdentities: make(map[string]struct{}),
		myNames:      make(map[string]struct{}),
	}
}

// Invalidate discards every cached classification, including the seed
// attempt marker. Call after any mutation that could change ownership,
// such as creating a template.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.myIdentities = make(map[string]struct{})
	r.myNames = make(map[string]struct{})
	r.attemptedSeed = false
	r.cacheValid = false
	r.myTemplates = nil
	r.otherTemplates = nil
	r.log.Debug("ownership cache invalidated")
}

// UserID returns the caller's account id, resolving it via `show user` on
// first use. Returns "" when the lookup failed; the failure is permanent
// for the lifetime of the resolver.
func (r *Resolver) UserID(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureUserIDLocked(ctx)
}

func (r *Resolver) ensureUserIDLocked(ctx context.Context) string {
	if r.userIDResolved {
		return r.userID
	}
	r.userIDResolved = true
	rec, err := r.client.ShowUser(ctx)
	if err != nil {
		r.log.Warn("caller id lookup failed", "error", err)
		return ""
	}
	r.userID = rec.FirstString(userIDKeys...)
	r.log.Debug("resolved caller id", "user_id", r.userID)
	return r.userID
}

// IsMine reports whether a template belongs to the caller. Rules apply in
// order; the first conclusive one wins:
//
//  1. any owned flag present and truthy;
//  2. identity previously cached as the caller's;
//  3. template name previously cached as the caller's;
//  4. caller id matches a creator/owner field;
//  5. owner override matches a creator/owner field;
//  6. otherwise not mine.
func (r *Resolver) IsMine(ctx context.Context, rec Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isMineLocked(ctx, rec)
}

func (r *Resolver) isMineLocked(ctx context.Context, rec Record) bool {
	for _, key := range ownedFlagKeys {
		if v, ok := rec[key]; ok && Truthy(v) {
			return true
		}
	}
	if id := rec.Identity(); id != "" {
		if _, ok := r.myIdentities[id]; ok {
			return true
		}
	}
	if name := Stringify(rec["name"]); name != "" {
		if _, ok := r.myNames[name]; ok {
			return true
		}
	}
	if userID := r.ensureUserIDLocked(ctx); userID != "" {
		for _, key := range callerIDKeys {
			if v, ok := rec[key]; ok && v != nil && Stringify(v) == userID {
				return true
			}
		}
	}
	if r.overrideID != "" {
		for _, key := range overrideIDKeys {
			if v, ok := rec[key]; ok && v != nil && Stringify(v) == r.overrideID {
				return true
			}
		}
	}
	return false
}

// Remember marks a template as the caller's, indexing its identity and name
// and memoizing its launch hash.
func (r *Resolver) Remember(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rememberLocked(rec)
}

func (r *Resolver) rememberLocked(rec Record) {
	EnsureTemplateHash(rec)
	if id := rec.Identity(); id != "" {
		r.myIdentities[id] = struct{}{}
	}
	if name := Stringify(rec["name"]); name != "" {
		r.myNames[name] = struct{}{}
	}
}

// EnsureTemplateCache returns the caller's templates and everyone else's,
// building the partition on first use. Seeding errors are swallowed (a
// failed seed only degrades classification); a failure of the final full
// listing is returned and leaves the cache invalid so the next call retries
// the listing without re-seeding.
func (r *Resolver) EnsureTemplateCache(ctx context.Context) (mine, others []Record, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cacheValid {
		return r.myTemplates, r.otherTemplates, nil
	}

	var seeded []Record
	if !r.attemptedSeed {
		r.attemptedSeed = true
		seeded = r.seedLocked(ctx)
	}

	all, err := r.client.SearchTemplates(ctx, "")
	if err != nil {
		return nil, nil, err
	}

	// Dedup is by identity only; records with no identity are always listed.
	seen := make(map[string]struct{})
	mine = make([]Record, 0, len(seeded))
	for _, rec := range seeded {
		if id := rec.Identity(); id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		r.rememberLocked(rec)
		mine = append(mine, rec)
	}

	others = make([]Record, 0, len(all))
	for _, rec := range all {
		if id := rec.Identity(); id != "" {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		if r.isMineLocked(ctx, rec) {
			r.rememberLocked(rec)
			mine = append(mine, rec)
		} else {
			others = append(others, rec)
		}
	}

	r.myTemplates = mine
	r.otherTemplates = others
	r.cacheValid = true
	r.log.Debug("template cache built", "mine", len(mine), "others", len(others))
	return mine, others, nil
}

// seedLocked gathers templates that are the caller's by construction:
// the my=true market filter, owner-id filters for each known owner id, and
// finally the account's own template listing. Every record returned is
// unconditionally the caller's. Failures here are logged and ignored.
func (r *Resolver) seedLocked(ctx context.Context) []Record {
	seeded := r.attemptQueryLocked(ctx, "my=true")

	for _, ownerID := range r.ownerIDsLocked(ctx) {
		seeded = append(seeded, r.collectOwnerTemplatesLocked(ctx, ownerID)...)
	}

	if len(seeded) == 0 {
		owned, err := r.client.ShowTemplates(ctx)
		if err != nil {
			r.log.Debug("show templates seed failed", "error", err)
		} else {
			for _, rec := range owned {
				r.rememberLocked(rec)
			}
			seeded = append(seeded, owned...)
		}
	}

	return seeded
}

// OwnerIDs returns the distinct owner ids associated with the caller: the
// configured override first, then the resolved account id. Resolving the
// account id may cost one CLI call the first time.
func (r *Resolver) OwnerIDs(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ownerIDsLocked(ctx)
}

// ownerIDsLocked returns the distinct non-empty owner ids to filter by:
// the override first, then the resolved caller id.
func (r *Resolver) ownerIDsLocked(ctx context.Context) []string {
	var ids []string
	if r.overrideID != "" {
		ids = append(ids, r.overrideID)
	}
	if userID := r.ensureUserIDLocked(ctx); userID != "" && userID != r.overrideID {
		ids = append(ids, userID)
	}
	return ids
}

// collectOwnerTemplatesLocked queries the market once per filter spelling
// for one owner id, deduping across spellings.
func (r *Resolver) collectOwnerTemplatesLocked(ctx context.Context, ownerID string) []Record {
	var collected []Record
	seen := make(map[string]struct{})
	for _, key := range ownerFilterKeys {
		for _, rec := range r.attemptQueryLocked(ctx, key+"="+ownerID) {
			ck := rec.CanonicalKey()
			if _, dup := seen[ck]; dup {
				continue
			}
			seen[ck] = struct{}{}
			collected = append(collected, rec)
		}
	}
	return collected
}

// attemptQueryLocked runs one template market query, treating any failure
// as an empty result. Results are remembered as the caller's.
func (r *Resolver) attemptQueryLocked(ctx context.Context, query string) []Record {
	records, err := r.client.SearchTemplates(ctx, query)
	if err != nil {
		r.log.Debug("template seed query failed", "query", query, "error", err)
		return nil
	}
	for _, rec := range records {
		r.rememberLocked(rec)
	}
	return records
}
