package entity

import "encoding/json"

// ProofTree is the raw shape returned by the backend's
// rust-analyzer/getFailedObligations extension: a failed trait-solver goal
// with the candidates that were tried and their nested goals.
type ProofTree struct {
	Goal       string           `json:"goal"`
	Result     string           `json:"result"`
	Depth      int              `json:"depth"`
	Candidates []ProofCandidate `json:"candidates"`
}

// ProofCandidate is one attempted resolution of a proof-tree goal.
type ProofCandidate struct {
	Kind        string      `json:"kind"`
	Result      string      `json:"result"`
	ImplHeader  *string     `json:"impl_header"`
	NestedGoals []ProofTree `json:"nested_goals"`
}

// GoalTree is the depth-one view of a proof tree served to callers. Nested
// goals are summarized by candidate count and addressable via GoalIndex.
type GoalTree struct {
	Goal       string     `json:"goal"`
	Result     string     `json:"result"`
	GoalIndex  string     `json:"goal_index,omitempty"`
	Candidates Candidates `json:"candidates"`
}

// GoalCandidate mirrors ProofCandidate with nested goals collapsed to summaries.
type GoalCandidate struct {
	Kind        string     `json:"kind"`
	Result      string     `json:"result"`
	ImplHeader  *string    `json:"impl_header"`
	NestedGoals []GoalTree `json:"nested_goals"`
}

// Candidates is either a full candidate list (at the tree being served) or a
// bare count (for nested goals that have not been expanded yet).
type Candidates struct {
	Count *int
	List  []GoalCandidate
}

// MarshalJSON encodes either the count or the list, matching the backend's
// untagged union shape.
func (c Candidates) MarshalJSON() ([]byte, error) {
	if c.Count != nil {
		return json.Marshal(*c.Count)
	}
	return json.Marshal(c.List)
}

// UnmarshalJSON accepts either form.
func (c *Candidates) UnmarshalJSON(data []byte) error {
	var count int
	if err := json.Unmarshal(data, &count); err == nil {
		c.Count = &count
		c.List = nil
		return nil
	}
	c.Count = nil
	return json.Unmarshal(data, &c.List)
}

// CandidateCount returns a Candidates holding a bare count.
func CandidateCount(n int) Candidates {
	return Candidates{Count: &n}
}

// CandidateList returns a Candidates holding the full list.
func CandidateList(list []GoalCandidate) Candidates {
	return Candidates{List: list}
}
