// Package prompt assembles the system and user prompts for SQL
// generation and budgets the context block against the model's token
// window.
package prompt

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/queryd/internal/guardrails"
)

// DefaultContextTokens bounds the rendered context block.
const DefaultContextTokens = 6000

// TruncationMarker is appended when the context block had to be cut.
const TruncationMarker = "[Context truncated to fit token limit]"

// Includes narrows generation to named parts of the catalog.
type Includes struct {
	Schemas []string `json:"schemas,omitempty"`
	Tables  []string `json:"tables,omitempty"`
	Columns []string `json:"columns,omitempty"`
}

// Constraints steers the shape of the generated query.
type Constraints struct {
	MustIncludeMetrics []string `json:"must_include_metrics,omitempty"`
	TimeRange          string   `json:"time_range,omitempty"`
	MaxRows            int      `json:"max_rows,omitempty"`
	IncludeTotals      bool     `json:"include_totals,omitempty"`
	GroupByPeriod      string   `json:"group_by_period,omitempty"`
}

// BuildSystemPrompt renders the generation instructions, surfacing the
// active policy so the model avoids queries the guardrails would reject
// anyway.
func BuildSystemPrompt(dialect string, policy guardrails.Policy, catalogName string) string {
	parts := []string{
		fmt.Sprintf("You are an expert %s SQL generator.", strings.ToUpper(dialect)),
		fmt.Sprintf("You are working with the '%s' database catalog.", catalogName),
		"",
		"IMPORTANT INSTRUCTIONS:",
		"1. Generate ONLY valid SQL queries based on the provided context",
		"2. Use table and column names EXACTLY as shown in the context",
		"3. Always include proper JOINs when referencing multiple tables",
		"4. Return your response as a JSON object with 'sql' and 'explanation' fields",
		"5. The 'sql' field should contain the complete, executable SQL query",
		"6. The 'explanation' field should briefly describe what the query does",
		"",
		"POLICIES AND CONSTRAINTS:",
	}

	if !policy.AllowWrite {
		parts = append(parts, "- ONLY SELECT queries are allowed (no INSERT, UPDATE, DELETE, etc.)")
	}
	if policy.DefaultLimit > 0 {
		parts = append(parts, fmt.Sprintf("- If no LIMIT is specified, a LIMIT of %d will be automatically added", policy.DefaultLimit))
	}
	if len(policy.BannedTables) > 0 {
		parts = append(parts, fmt.Sprintf("- NEVER use these banned tables: %s", strings.Join(policy.BannedTables, ", ")))
	}
	if len(policy.BannedColumns) > 0 {
		parts = append(parts, fmt.Sprintf("- NEVER use these banned columns: %s", strings.Join(policy.BannedColumns, ", ")))
	}
	if len(policy.BannedSchemas) > 0 {
		parts = append(parts, fmt.Sprintf("- NEVER use these banned schemas: %s", strings.Join(policy.BannedSchemas, ", ")))
	}
	if policy.MaxRowsReturned > 0 {
		parts = append(parts, fmt.Sprintf("- Maximum LIMIT allowed is %d", policy.MaxRowsReturned))
	}
	if len(policy.AllowedFunctions) > 0 {
		parts = append(parts, fmt.Sprintf("- Only these functions are allowed: %s", strings.Join(policy.AllowedFunctions, ", ")))
	}
	if len(policy.BlockedFunctions) > 0 {
		parts = append(parts, fmt.Sprintf("- These functions are blocked: %s", strings.Join(policy.BlockedFunctions, ", ")))
	}

	parts = append(parts,
		"",
		"RESPONSE FORMAT:",
		"Always respond with valid JSON in this exact format:",
		"{",
		`  "sql": "SELECT * FROM table_name LIMIT 100;",`,
		`  "explanation": "This query retrieves all records from table_name with a limit of 100 rows."`,
		"}",
		"",
		"Do not include any text before or after the JSON response.",
	)
	return strings.Join(parts, "\n")
}

// BuildUserPrompt combines the retrieved context, focus areas, constraints
// and the question into the user message.
func BuildUserPrompt(question, context string, constraints *Constraints, includes *Includes) string {
	var parts []string

	if context != "" {
		parts = append(parts, context, "")
	}

	if includes != nil {
		var focus []string
		if len(includes.Schemas) > 0 {
			focus = append(focus, fmt.Sprintf("Focus on schemas: %s", strings.Join(includes.Schemas, ", ")))
		}
		if len(includes.Tables) > 0 {
			focus = append(focus, fmt.Sprintf("Focus on tables: %s", strings.Join(includes.Tables, ", ")))
		}
		if len(includes.Columns) > 0 {
			focus = append(focus, fmt.Sprintf("Focus on columns: %s", strings.Join(includes.Columns, ", ")))
		}
		if len(focus) > 0 {
			parts = append(parts, "FOCUS AREAS:")
			for _, f := range focus {
				parts = append(parts, "- "+f)
			}
			parts = append(parts, "")
		}
	}

	if constraints != nil {
		var extra []string
		if len(constraints.MustIncludeMetrics) > 0 {
			extra = append(extra, fmt.Sprintf("Must include these metrics: %s", strings.Join(constraints.MustIncludeMetrics, ", ")))
		}
		if constraints.TimeRange != "" {
			extra = append(extra, fmt.Sprintf("Time range: %s", constraints.TimeRange))
		}
		if constraints.MaxRows > 0 {
			extra = append(extra, fmt.Sprintf("Maximum rows to return: %d", constraints.MaxRows))
		}
		if constraints.IncludeTotals {
			extra = append(extra, "Include total/aggregate calculations")
		}
		if constraints.GroupByPeriod != "" {
			extra = append(extra, fmt.Sprintf("Group results by: %s", constraints.GroupByPeriod))
		}
		if len(extra) > 0 {
			parts = append(parts, "ADDITIONAL CONSTRAINTS:")
			for _, c := range extra {
				parts = append(parts, "- "+c)
			}
			parts = append(parts, "")
		}
	}

	parts = append(parts,
		"QUESTION:",
		question,
		"",
		"Generate the SQL query to answer this question:",
	)
	return strings.Join(parts, "\n")
}

// EstimateTokens approximates the token count of text at four characters
// per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// TruncateContext cuts context down to roughly maxTokens, trimming at a
// word boundary and appending the truncation marker. Context that fits is
// returned unchanged.
func TruncateContext(context string, maxTokens int) string {
	estimated := EstimateTokens(context)
	if estimated <= maxTokens {
		return context
	}

	target := len(context) * maxTokens / estimated
	if target >= len(context) {
		return context
	}
	truncated := context[:target]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 0 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "\n\n" + TruncationMarker
}
