package mcp

import (
	"context"

	"datanerd/internal/errs"
)

type askInput struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

type askOutput struct {
	SessionID string   `json:"session_id"`
	Guidance  bool     `json:"guidance"`
	Narrative string   `json:"narrative,omitempty"`
	Insights  []string `json:"insights,omitempty"`
	FollowUps []string `json:"follow_ups,omitempty"`
	Metric    string   `json:"metric,omitempty"`
	RowCount  int      `json:"row_count"`
	Cached    bool     `json:"cached"`
	Dashboard string   `json:"dashboard,omitempty"`
}

func (s *Server) registerAnalystTools() {
	addTool(s, "ask_ai_analyst",
		"Ask a business question in plain language. Classifies intent, picks the metric, runs the query, and answers with a narrative, insights, and follow-up suggestions. Pass the returned session_id to keep the conversation going.",
		nil,
		func(ctx context.Context, in askInput) (string, askOutput, error) {
			if in.Question == "" {
				return "", askOutput{}, errs.New(errs.KindInvalidInput, "Empty question").
					WithHint("ask something like \"how is revenue trending?\"")
			}
			ans, err := s.analyst.Ask(ctx, in.Question, in.SessionID)
			if err != nil {
				return "", askOutput{}, err
			}

			out := askOutput{
				SessionID: ans.SessionID,
				Guidance:  ans.Guidance,
				Narrative: ans.Narrative,
				Insights:  ans.Insights,
				FollowUps: ans.FollowUps,
				Cached:    ans.Cached,
				Dashboard: ans.Dashboard,
			}
			if ans.Result != nil {
				out.Metric = ans.Request.Metric
				out.RowCount = len(ans.Result.Rows)
			}
			return ans.Markdown, out, nil
		})
}
