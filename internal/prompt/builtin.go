package prompt

import "sort"

// Template names.
const (
	QueryWorker        = "query-worker.md"
	QueryEvaluator     = "query-evaluator.md"
	RetrievalEvaluator = "retrieval-evaluator.md"
	AnswerWorker       = "answer-worker.md"
	AnswerEvaluator    = "answer-evaluator.md"
	Classifier         = "classifier.md"
	Router             = "router.md"
	Research           = "research.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	QueryWorker:        queryWorkerTemplate,
	QueryEvaluator:     queryEvaluatorTemplate,
	RetrievalEvaluator: retrievalEvaluatorTemplate,
	AnswerWorker:       answerWorkerTemplate,
	AnswerEvaluator:    answerEvaluatorTemplate,
	Classifier:         classifierTemplate,
	Router:             routerTemplate,
	Research:           researchTemplate,
}

// Names lists the compiled-in template names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtinTemplates))
	for name := range builtinTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const queryWorkerTemplate = `You prepare a user question for document retrieval and answering.

[User question]
{{question}}

{{#if feedback}}
[Feedback on your previous attempt]
{{feedback}}
Address this feedback directly in your new output.
{{/if}}

Tasks:
1. Rewrite the question in clear, self-contained English without changing its intent.
2. Write 2 to 4 distinct search queries that would retrieve documents answering it.
3. Choose the output format the user asked for, or "qa" if they did not ask:
   one of "qa", "bulleted", "table", "json", "report".
4. Choose the answer language: "{{primary_language}}" unless the user clearly asked
   for "{{secondary_language}}".

Return JSON ONLY:
{"refined_question": "...", "search_directives": ["...", "..."], "response_type": "qa", "language": "{{primary_language}}"}
`

const queryEvaluatorTemplate = `You review a rewritten question before it is used for retrieval.

[Original question]
{{question}}

[Rewritten question]
{{refined_question}}

[Candidate search queries]
{{candidate_directives}}

[Chosen output format]
type={{response_type}} language={{language}}

Score:
- semantic_alignment: 0.0 to 1.0, how faithfully the rewrite keeps the original intent.
  1.0 = perfectly faithful; 0.0 = unrelated or incorrect.
- format_compliance: true if the output type and language match what the user asked for
  (or the defaults when the user asked for nothing).
- directive_scores: one score from 0.0 to 1.0 per candidate query, in the same order,
  for how likely it is to retrieve documents that answer the question.
- reason: when anything is weak, one or two sentences telling the writer what to fix.

Return JSON ONLY:
{"semantic_alignment": 0.0, "format_compliance": true, "directive_scores": [0.0], "reason": ""}
`

const retrievalEvaluatorTemplate = `You judge whether one retrieved passage is usable evidence.

[Question]
{{refined_question}}

[Search query]
{{search_directive}}

[Passage source: {{unit_source}}]
{{#if unit_title}}Title: {{unit_title}}
{{/if}}{{unit_content}}

Score:
- relevance: 0.0 to 1.0, how directly the passage addresses the question.
- specificity: 0.0 to 1.0, how concrete and detailed the passage is (facts, figures,
  procedures) rather than generic.
- reason: one sentence explaining a low score; empty otherwise.

Return JSON ONLY:
{"relevance": 0.0, "specificity": 0.0, "reason": ""}
`

const answerWorkerTemplate = `{{#if evidence}}You answer the question using ONLY the passages below.
If the passages do not contain the answer, reply with exactly: {{no_info_message}}

[Passages]
{{evidence}}
{{/if}}{{#unless evidence}}You answer the question from your own knowledge. No documents are provided.
{{/unless}}
[Question]
{{refined_question}}

{{#if feedback}}
[Reviewer feedback on your previous answer]
{{feedback}}
{{/if}}

Requested format: {{response_type}}
Requested language: {{language}}

Format guidelines:
- qa: one-sentence direct answer first, then explanation in short paragraphs or 3-8 bullets.
- bulleted: 8-15 substantive bullets, optionally grouped under bold mini-headings.
- table: a Markdown table with a header row and 3-9 columns; use "N/A" for missing values.
- json: valid JSON only, no code fences, always with an "answer" string.
- report: 3-10 H2 sections, each 3-8 sentences.

Do not prefix the answer with a description of its format. Write strictly in {{language}}.
`

const answerEvaluatorTemplate = `You review a final answer before it is shown to the user.

[Question]
{{refined_question}}

[Requested format]
type={{response_type}} language={{language}}

[Answer]
{{answer}}

Score:
- rules_compliance: true if the answer follows the requested type and is written in
  the requested language.
- question_coverage: 0.0 to 1.0, how fully the answer addresses the question.
- logical_structure: 0.0 to 1.0, how coherent and well organised the answer is.
- reason: when anything is weak, one or two sentences telling the writer what to fix.

Return JSON ONLY:
{"rules_compliance": true, "question_coverage": 0.0, "logical_structure": 0.0, "reason": ""}
`

const classifierTemplate = `Decide whether answering this question requires looking up documents.

[Question]
{{question}}

Answer false only for greetings, small talk, or questions fully answerable from
general knowledge without any specific source.

Return JSON ONLY:
{"needs_retrieval": true, "reason": ""}
`

const routerTemplate = `You supervise a three-stage question answering pipeline:
query (rewrite the question), retrieval (gather evidence), answer (write the answer).

[Current state]
{{state_json}}

The last stage to finish was "{{last_stage}}" with verdict "{{last_verdict}}".
{{#if last_reason}}Its reason: {{last_reason}}
{{/if}}
Choose the next step. Allowed values: {{allowed}}

Return JSON ONLY:
{"next_stage": "...", "reasoning": ""}
`

const researchTemplate = `You are a web researcher. Find {{count}} distinct, detailed, non-overlapping
sources that directly address this query:

{{directive}}

For each source give its title, URL, and a summary detailed enough to be useful on its own.

Return JSON ONLY:
{"results": [{"title": "...", "url": "...", "summary": "..."}]}
`
