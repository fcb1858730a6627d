package context

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/qafactory/internal/config"
	"github.com/lucasnoah/qafactory/internal/pipeline"
	"github.com/lucasnoah/qafactory/internal/prompt"
)

// evidenceSeparator joins formatted evidence units.
const evidenceSeparator = "\n\n---\n\n"

// noInfoMessages is the fixed reply when evidence lacks the answer, keyed
// by language code.
var noInfoMessages = map[string]string{
	"ko": "문서에 해당 정보가 없습니다.",
	"en": "The documents do not contain that information.",
}

// NoInfoMessage returns the no-information reply for a language code,
// falling back to English.
func NoInfoMessage(lang string) string {
	if m, ok := noInfoMessages[lang]; ok {
		return m
	}
	return noInfoMessages["en"]
}

// Builder assembles prompt variables for collaborator calls from the run
// state.
type Builder struct {
	langs    config.Languages
	maxChars int
}

// NewBuilder creates a Builder. maxChars <= 0 disables evidence truncation.
func NewBuilder(langs config.Languages, maxChars int) *Builder {
	return &Builder{langs: langs, maxChars: maxChars}
}

// BuildOpts identifies the call being prepared.
type BuildOpts struct {
	Stage    pipeline.StageID
	Attempt  int
	Feedback string
}

// Build returns the variables shared by every template for a stage call.
func (b *Builder) Build(st *pipeline.PipelineState, opts BuildOpts) prompt.Vars {
	contract := st.Contract()
	refined := st.RefinedQuestion()
	if refined == "" {
		refined = st.OriginalQuestion()
	}

	vars := prompt.Vars{
		"run_id":             st.RunID(),
		"stage_id":           string(opts.Stage),
		"attempt":            strconv.Itoa(opts.Attempt),
		"question":           st.OriginalQuestion(),
		"refined_question":   refined,
		"search_directive":   st.SearchDirective(),
		"response_type":      string(contract.Type),
		"language":           b.langs.Code(contract.Language),
		"primary_language":   b.langs.Primary,
		"secondary_language": b.langs.Secondary,
		"feedback":           opts.Feedback,
		"evidence":           "",
		"no_info_message":    NoInfoMessage(b.langs.Code(contract.Language)),
	}

	if opts.Stage == pipeline.StageAnswer {
		vars["evidence"] = FormatEvidence(st.Evidence(), b.maxChars)
	}
	return vars
}

// UnitVars adds the variables describing one evidence unit under review.
func (b *Builder) UnitVars(base prompt.Vars, u pipeline.EvidenceUnit) prompt.Vars {
	vars := make(prompt.Vars, len(base)+3)
	for k, v := range base {
		vars[k] = v
	}
	vars["unit_source"] = string(u.Source)
	vars["unit_title"] = u.Title
	vars["unit_content"] = truncate(u.Content, b.maxChars)
	return vars
}

// FormatEvidence renders units in order as numbered passages tagged with
// their source and joined by a rule line, cut to maxChars when maxChars > 0.
func FormatEvidence(units []pipeline.EvidenceUnit, maxChars int) string {
	if len(units) == 0 {
		return ""
	}
	parts := make([]string, len(units))
	for i, u := range units {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%d]", i+1)
		if u.Title != "" {
			fmt.Fprintf(&sb, " %s", u.Title)
		}
		if u.URL != "" {
			fmt.Fprintf(&sb, " (%s)", u.URL)
		}
		if u.Source != "" {
			fmt.Fprintf(&sb, " [source: %s]", u.Source)
		}
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(u.Content))
		parts[i] = sb.String()
	}
	return truncate(strings.Join(parts, evidenceSeparator), maxChars)
}

// FormatDirectives numbers candidate search directives one per line.
func FormatDirectives(directives []string) string {
	var sb strings.Builder
	for i, d := range directives {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, d)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
