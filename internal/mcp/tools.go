package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/pkg/memory"
)

type memoryAddInput struct {
	Content         string   `json:"content" jsonschema:"required,The memory text to store"`
	UserID          string   `json:"user_id,omitempty" jsonschema:"Tenant to store the memory for (defaults to the configured user)"`
	Tags            []string `json:"tags,omitempty" jsonschema:"Free-form labels for later filtering"`
	PeopleMentioned []string `json:"people_mentioned,omitempty" jsonschema:"People referenced by the memory"`
	TopicCategory   string   `json:"topic_category,omitempty" jsonschema:"Single categorical label (e.g. work, health, family)"`
}

type memoryAddOutput struct {
	Success  bool   `json:"success" jsonschema:"Whether the memory was stored"`
	MemoryID string `json:"memory_id,omitempty" jsonschema:"Id of the stored memory"`
	Error    string `json:"error,omitempty" jsonschema:"Error message when success is false"`
}

type memorySearchInput struct {
	Query           string   `json:"query" jsonschema:"Semantic search query. Empty returns everything matching the filters, unranked"`
	UserID          string   `json:"user_id,omitempty" jsonschema:"Tenant to search (defaults to the configured user)"`
	Tags            []string `json:"tags,omitempty" jsonschema:"Only return memories carrying any of these tags"`
	MatchAllTags    bool     `json:"match_all_tags,omitempty" jsonschema:"Require every listed tag instead of any"`
	PeopleMentioned []string `json:"people_mentioned,omitempty" jsonschema:"Only return memories mentioning any of these people"`
	TopicCategory   string   `json:"topic_category,omitempty" jsonschema:"Only return memories with this exact topic"`
	Limit           int      `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 10)"`
	Threshold       float32  `json:"threshold,omitempty" jsonschema:"Minimum similarity score, 0 to 1"`
}

type memorySearchOutput struct {
	Results []memory.Result `json:"results" jsonschema:"Matching memories ranked by similarity"`
	Count   int             `json:"count" jsonschema:"Number of results returned"`
}

type memoryListInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"Tenant to list (defaults to the configured user)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 100)"`
}

type memoryListOutput struct {
	Results []memory.Result `json:"results" jsonschema:"The tenant's memories, newest first"`
	Count   int             `json:"count" jsonschema:"Number of results returned"`
}

type memoryDeleteAllInput struct {
	UserID string `json:"user_id,omitempty" jsonschema:"Tenant whose memories to delete (defaults to the configured user)"`
}

type memoryDeleteAllOutput struct {
	Success      bool   `json:"success" jsonschema:"Whether the deletion completed"`
	DeletedCount int    `json:"deleted_count" jsonschema:"Number of memories removed"`
	Error        string `json:"error,omitempty" jsonschema:"Error message when success is false"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_add",
		Description: "Store a memory for later semantic recall. Tag it with topics, people, and labels so filtered searches can find it.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryAddInput) (*mcp.CallToolResult, memoryAddOutput, error) {
		if args.Content == "" {
			return nil, memoryAddOutput{}, fmt.Errorf("content is required")
		}

		result, err := s.provider.Add(ctx, memory.AddRequest{
			Content:         args.Content,
			UserID:          s.userOrDefault(args.UserID),
			Tags:            args.Tags,
			PeopleMentioned: args.PeopleMentioned,
			TopicCategory:   args.TopicCategory,
		})
		if err != nil {
			s.logger.Warn("memory_add failed", zap.Error(err))
			return nil, memoryAddOutput{Success: false, Error: result.Error}, nil
		}
		return nil, memoryAddOutput{
			Success:  result.Success,
			MemoryID: result.MemoryID,
			Error:    result.Error,
		}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_search",
		Description: "Search stored memories by semantic similarity, optionally filtered by tags, people, or topic. An empty query lists everything matching the filters.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memorySearchInput) (*mcp.CallToolResult, memorySearchOutput, error) {
		resp, err := s.provider.Search(ctx, memory.SearchRequest{
			Query:           args.Query,
			UserID:          s.userOrDefault(args.UserID),
			Tags:            args.Tags,
			MatchAllTags:    args.MatchAllTags,
			PeopleMentioned: args.PeopleMentioned,
			TopicCategory:   args.TopicCategory,
			Limit:           args.Limit,
			Threshold:       args.Threshold,
		})
		if err != nil {
			return nil, memorySearchOutput{}, err
		}
		return nil, memorySearchOutput{Results: resp.Results, Count: len(resp.Results)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_list",
		Description: "List a tenant's stored memories, newest first, without similarity ranking.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryListInput) (*mcp.CallToolResult, memoryListOutput, error) {
		resp, err := s.provider.GetAll(ctx, memory.GetAllRequest{
			UserID: s.userOrDefault(args.UserID),
			Limit:  args.Limit,
		})
		if err != nil {
			return nil, memoryListOutput{}, err
		}
		return nil, memoryListOutput{Results: resp.Results, Count: len(resp.Results)}, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "memory_delete_all",
		Description: "Delete all of a tenant's stored memories. Irreversible.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args memoryDeleteAllInput) (*mcp.CallToolResult, memoryDeleteAllOutput, error) {
		// The default tenant is always applied here: an agent can never
		// reach the cross-tenant collection reset through this tool.
		result, err := s.provider.DeleteAll(ctx, s.userOrDefault(args.UserID))
		if err != nil {
			s.logger.Warn("memory_delete_all failed", zap.Error(err))
			return nil, memoryDeleteAllOutput{Success: false, Error: result.Error}, nil
		}
		return nil, memoryDeleteAllOutput{
			Success:      result.Success,
			DeletedCount: result.DeletedCount,
			Error:        result.Error,
		}, nil
	})
}
