// Package prompt builds the instructions sent to the language model. Every
// builder is a pure function of its arguments.
package prompt

import (
	"fmt"
	"strings"
)

// Prompt is a system prompt plus, for single-turn calls, the user message
// that goes with it.
type Prompt struct {
	System string
	User   string
}

const (
	ErrorCorrectionRequest       = "Correct the SQL query."
	EmptyResultCorrectionRequest = "Modify the query to potentially return results."
)

const generationTemplate = `
You are a senior GTFS and SQL engineer with decades of experience querying transit data.
Respond ONLY with a single valid PostgreSQL/PostGIS query that answers the question, using the following GTFS schema:

%s

Guidelines:
0. Expect ambiguous input and match free text on partial strings (ILIKE '%%...%%'). Colors and line names are usually strings.
1. DO NOT NEST AGGREGATE FUNCTIONS. Compute inner aggregates in a subquery or CTE first.
2. Always qualify column names with their table name.
3. Include human-readable names next to ids in the result whenever possible.
4. Mind GTFS quirks: trips are often duplicated across service days and shapes must be ordered by shape_pt_sequence before measuring lengths.
5. Only use functions that exist in PostgreSQL and PostGIS.
6. Do NOT invent tables or columns that are not in the schema.
7. Prefer CTEs (WITH ...) over deeply nested subqueries.
8. Do not use reserved words as aliases or identifiers.

Storage conventions:
- Times such as stop_times.arrival_time are TEXT in HH:MM:SS and may exceed 24:00:00 for trips past midnight; compare them as text or convert with ::interval.
- Dates such as calendar.start_date are TEXT in YYYY-MM-DD; cast with ::date.
- stops.geometry, when present, is geometry(Point, 4326) and is indexed; cast to geography for distances in meters.

Common errors to avoid:
1. Error message: aggregate function calls cannot be nested
   LINE 10:     MAX(ST_Length(ST_MakeLine(ST_MakePoint(shape_pt_lon, sha...
2. Error executing query: function st_makeline(geography) does not exist
   LINE 7:             ST_MakeLine(

Structure your response as:
-- [your reasoning as SQL comments]
[one valid SQL query]

Do not add any other text, explanation or code fences.
`

const errorCorrectionTemplate = `
Correct the following SQL query that failed:

%s

Error message: %s

GTFS schema:
%s

Provide ONLY the corrected SQL query, with any explanation as SQL comments. Do not add any other text.
`

const emptyResultCorrectionTemplate = `
Modify the following SQL query, which returned no rows:

%s

Consider:
1. Are the WHERE clauses too restrictive?
2. Do the JOINs eliminate every row?
3. Do all referenced columns exist, and are they referenced on the right table?

GTFS schema:
%s

Provide ONLY the modified SQL query. Do not add explanations or comments.
`

// SummarySystem asks for a short HTML answer built from a sample of rows.
const SummarySystem = `
Answer the user's question from the provided rows in natural, conversational language.

Guidelines:
1. State the total number of results.
2. Mention the key data points or trends.
3. Leave out technical details about the data format or the query.
4. Never mention a "truncated" answer or the "full answer length".
5. Keep it concise and readable.
6. Do not open with phrases like "this query returned" or "the data shows". Answer the question directly.
7. The user provides the full answer length. Use that number as the result count, not the number of sample rows.

Use short, clear sentences without jargon. Maximum response length: 100 characters.

Format the response as plain HTML, highlighting relevant parts with <b> or <em> and using lists and paragraphs where they help.
`

// ValidationSystem asks for a plausibility verdict on an answer.
const ValidationSystem = `
Check the given public transport data for suspicious or unrealistic values.
Consider:
1. Route lengths (usually under 100 km for buses, possibly longer for rail)
2. Operating hours (usually 5 AM to 1 AM)
3. Vehicle speeds (usually 10-80 km/h for buses, possibly higher for rail)
4. Number of stops (usually under 100 per route)
5. Service frequency (usually no more often than every 5 minutes and no less often than every 2 hours)

Respond ONLY with:
VALID
or
SUSPICIOUS: [brief explanation]
`

func Generation(schema string) Prompt {
	return Prompt{System: fmt.Sprintf(generationTemplate, schema)}
}

func ErrorCorrection(schema, query, errMessage string) Prompt {
	return Prompt{
		System: fmt.Sprintf(errorCorrectionTemplate, query, errMessage, schema),
		User:   ErrorCorrectionRequest,
	}
}

func EmptyResultCorrection(schema, query string) Prompt {
	return Prompt{
		System: fmt.Sprintf(emptyResultCorrectionTemplate, query, schema),
		User:   EmptyResultCorrectionRequest,
	}
}

// Summary embeds the sample rows and the real result count. total is the
// full row count, which is usually larger than len(rows).
func Summary(question string, columns []string, rows [][]any, total int) (Prompt, error) {
	embedded, err := RowsJSON(columns, rows, "    ")
	if err != nil {
		return Prompt{}, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", strings.TrimSpace(question))
	fmt.Fprintf(&b, "Truncated Answer:\n---\n%s\n---\n", embedded)
	fmt.Fprintf(&b, "Full Answer Length: %d", total)
	return Prompt{System: SummarySystem, User: b.String()}, nil
}

func Validation(summary string, columns []string, rows [][]any) (Prompt, error) {
	embedded, err := RowsJSON(columns, rows, "  ")
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{
		System: ValidationSystem,
		User:   fmt.Sprintf("Summary: %s\nFull data: %s", strings.TrimSpace(summary), embedded),
	}, nil
}
