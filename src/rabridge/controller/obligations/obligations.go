// Package obligations surfaces rust-analyzer's failed trait obligations.
// Proof trees come back arbitrarily deep; they are flattened to depth one,
// with nested goals indexed by generated ids for follow-up exploration.
package obligations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/symposium-dev/rabridge/src/rabridge/controller/docsync"
	"github.com/symposium-dev/rabridge/src/rabridge/entity"
	"github.com/symposium-dev/rabridge/src/rabridge/gateway/analyzer"
	"github.com/symposium-dev/rabridge/src/rabridge/internal/errors"
	"github.com/symposium-dev/rabridge/src/rabridge/repository/obligations"
	"go.lsp.dev/protocol"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MethodGetFailedObligations is the rust-analyzer extension serving proof trees.
const MethodGetFailedObligations = "rust-analyzer/getFailedObligations"

// Module provides an obligations Controller into an Fx application.
var Module = fx.Options(
	fx.Provide(New),
)

// Controller fetches and explores failed trait obligations.
type Controller interface {
	// FailedObligations returns the failed obligations at a position,
	// flattened to depth one.
	FailedObligations(ctx context.Context, filePath string, line, character uint32) ([]*entity.GoalTree, error)
	// Goal resolves previously returned goal indices to their stored trees.
	// One index yields a single tree, several yield a list.
	Goal(ctx context.Context, goalIndices []string) (interface{}, error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Analyzer analyzer.Gateway
	DocSync  docsync.Controller
	Goals    obligations.Repository
	Logger   *zap.SugaredLogger
}

type controller struct {
	analyzer analyzer.Gateway
	docSync  docsync.Controller
	goals    obligations.Repository
	logger   *zap.SugaredLogger
}

// New constructs a new obligations controller.
func New(p Params) Controller {
	return &controller{
		analyzer: p.Analyzer,
		docSync:  p.DocSync,
		goals:    p.Goals,
		logger:   p.Logger,
	}
}

func (c *controller) FailedObligations(ctx context.Context, filePath string, line, character uint32) ([]*entity.GoalTree, error) {
	docURI, err := c.docSync.EnsureOpen(ctx, filePath)
	if err != nil {
		return nil, err
	}

	params := &protocol.TextDocumentPositionParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: docURI},
		Position:     protocol.Position{Line: line, Character: character},
	}

	// The extension returns its payload as a JSON string, not a JSON value.
	var raw string
	if err := c.analyzer.Call(ctx, MethodGetFailedObligations, params, &raw); err != nil {
		return nil, err
	}
	if raw == "" {
		return []*entity.GoalTree{}, nil
	}

	var trees []entity.ProofTree
	if err := json.Unmarshal([]byte(raw), &trees); err != nil {
		return nil, fmt.Errorf("decoding proof trees: %w", err)
	}

	out := make([]*entity.GoalTree, 0, len(trees))
	for i := range trees {
		flattened, err := c.flatten(ctx, &trees[i])
		if err != nil {
			return nil, err
		}
		// The root is returned inline, so it needs no index.
		flattened.GoalIndex = ""
		out = append(out, flattened)
	}
	return out, nil
}

func (c *controller) Goal(ctx context.Context, goalIndices []string) (interface{}, error) {
	if len(goalIndices) == 0 {
		return nil, &errors.InvalidParameterError{Parameter: "goal_index", Reason: "at least one goal index is required"}
	}

	results := make([]*entity.GoalTree, 0, len(goalIndices))
	for _, idx := range goalIndices {
		tree, ok := c.goals.Get(ctx, idx)
		if !ok {
			return nil, &errors.InvalidParameterError{
				Parameter: "goal_index",
				Reason:    fmt.Sprintf("unknown or expired goal index %q", idx),
			}
		}
		results = append(results, tree)
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// flatten converts a proof tree into its depth-one view. Nested goals are
// stored in full under fresh indices and summarized inline by candidate
// count; goals with no candidates get no index since there is nothing more
// to expand.
func (c *controller) flatten(ctx context.Context, tree *entity.ProofTree) (*entity.GoalTree, error) {
	candidates := make([]entity.GoalCandidate, 0, len(tree.Candidates))
	for _, cand := range tree.Candidates {
		goals := make([]entity.GoalTree, 0, len(cand.NestedGoals))
		for i := range cand.NestedGoals {
			nested := &cand.NestedGoals[i]
			flattened, err := c.flatten(ctx, nested)
			if err != nil {
				return nil, err
			}
			if flattened.GoalIndex != "" {
				c.goals.Set(ctx, flattened.GoalIndex, flattened)
			}
			goals = append(goals, entity.GoalTree{
				Goal:       nested.Goal,
				Result:     nested.Result,
				GoalIndex:  flattened.GoalIndex,
				Candidates: entity.CandidateCount(len(nested.Candidates)),
			})
		}
		candidates = append(candidates, entity.GoalCandidate{
			Kind:        cand.Kind,
			Result:      cand.Result,
			ImplHeader:  cand.ImplHeader,
			NestedGoals: goals,
		})
	}

	var goalIndex string
	if len(candidates) > 0 {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("generating goal index: %w", err)
		}
		goalIndex = id.String()
	}

	return &entity.GoalTree{
		Goal:       tree.Goal,
		Result:     tree.Result,
		GoalIndex:  goalIndex,
		Candidates: entity.CandidateList(candidates),
	}, nil
}
