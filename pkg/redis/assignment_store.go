package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/featurelab/pkg/experiment"
)

var _ experiment.AssignmentStore = (*AssignmentStore)(nil)

// insertIfAbsent stores the assignment and bumps the variant counter only
// when no assignment exists yet. It returns the stored payload.
//
// KEYS[1] assignment key, KEYS[2] counter hash
// ARGV[1] payload, ARGV[2] variant
var insertIfAbsent = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX') then
	redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
	return ARGV[1]
end
return redis.call('GET', KEYS[1])
`)

// AssignmentStore keeps variant assignments in Redis. Assignments never
// expire, and per-variant counters are maintained alongside them.
type AssignmentStore struct {
	client redis.UniversalClient
	prefix string
}

// NewAssignmentStore creates a Redis-backed assignment store.
// Panics if client is nil to fail fast during initialization.
func NewAssignmentStore(client redis.UniversalClient, prefix string) *AssignmentStore {
	if client == nil {
		panic("redis: client is required")
	}
	if prefix == "" {
		prefix = "featurelab"
	}
	return &AssignmentStore{client: client, prefix: prefix}
}

func (s *AssignmentStore) GetAssignment(ctx context.Context, experimentID, userID string) (*experiment.Assignment, error) {
	raw, err := s.client.Get(ctx, s.assignmentKey(experimentID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, experiment.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	return decodeAssignment(raw)
}

func (s *AssignmentStore) InsertAssignmentIfAbsent(ctx context.Context, a *experiment.Assignment) (*experiment.Assignment, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	keys := []string{s.assignmentKey(a.ExperimentID, a.UserID), s.countKey(a.ExperimentID)}
	stored, err := insertIfAbsent.Run(ctx, s.client, keys, payload, a.Variant).Text()
	if err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}
	return decodeAssignment([]byte(stored))
}

func (s *AssignmentStore) CountAssignments(ctx context.Context, experimentID string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.countKey(experimentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}
	counts := make(map[string]int64, len(raw))
	for variant, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("count assignments: variant %q: %w", variant, err)
		}
		counts[variant] = n
	}
	return counts, nil
}

func (s *AssignmentStore) assignmentKey(experimentID, userID string) string {
	return s.prefix + ":assign:" + hashKey(experimentID+"\x00"+userID)
}

func (s *AssignmentStore) countKey(experimentID string) string {
	return s.prefix + ":assign:count:" + hashKey(experimentID)
}

func decodeAssignment(raw []byte) (*experiment.Assignment, error) {
	var a experiment.Assignment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &a, nil
}
