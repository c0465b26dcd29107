package memory

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/basket/workforce/internal/task"
)

const (
	workingMemoryFile = "WORKING_MEMORY.md"

	sectionRecent = "Recent Tasks"
	sectionNotes  = "Notes"
	sectionPrefs  = "Preferences"

	truncationMarker = "_Older entries were truncated to fit the memory budget._"

	entryBriefRunes = 80
	entryErrorRunes = 160
	entryMaxOutputs = 5
	taskLinePrefix  = "- Task: "
)

func workingMemoryPath(employeeID string) string {
	return path.Join(employeeID, workingMemoryFile)
}

type entry struct {
	taskID string
	text   string
}

type section struct {
	name string
	body string
}

// workingDoc is the parsed form of a working-memory document. The header
// is not kept; it is regenerated on every render.
type workingDoc struct {
	entries  []entry
	sections []section
}

func parseWorkingMemory(s string) *workingDoc {
	doc := &workingDoc{}
	var (
		current string
		inHdr   = true
		buf     []string
	)
	flush := func() {
		if inHdr {
			return
		}
		body := strings.Trim(strings.Join(buf, "\n"), "\n")
		if current == sectionRecent {
			doc.entries = append(doc.entries, parseEntries(buf)...)
			return
		}
		doc.sections = append(doc.sections, section{name: current, body: body})
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			inHdr = false
			current = strings.TrimSpace(line[3:])
			buf = buf[:0]
			continue
		}
		buf = append(buf, line)
	}
	flush()

	for _, name := range []string{sectionNotes, sectionPrefs} {
		if !doc.hasSection(name) {
			doc.sections = append(doc.sections, section{name: name})
		}
	}
	return doc
}

func parseEntries(lines []string) []entry {
	var (
		out []entry
		cur []string
	)
	emit := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.TrimRight(strings.Join(cur, "\n"), "\n ")
		e := entry{text: text}
		for _, l := range cur {
			if id, ok := strings.CutPrefix(l, taskLinePrefix); ok {
				e.taskID = strings.TrimSpace(id)
				break
			}
		}
		out = append(out, e)
		cur = nil
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == truncationMarker {
			continue
		}
		if strings.HasPrefix(l, "### ") {
			emit()
			cur = []string{l}
			continue
		}
		if cur != nil {
			cur = append(cur, l)
		}
	}
	emit()
	return out
}

func (d *workingDoc) hasSection(name string) bool {
	for _, s := range d.sections {
		if s.name == name {
			return true
		}
	}
	return false
}

// prepend puts e first, replacing any older entry for the same task.
func (d *workingDoc) prepend(e entry) {
	kept := make([]entry, 0, len(d.entries)+1)
	kept = append(kept, e)
	for _, old := range d.entries {
		if e.taskID != "" && old.taskID == e.taskID {
			continue
		}
		kept = append(kept, old)
	}
	d.entries = kept
}

// render serializes the document within budget bytes. Entries are dropped
// oldest first, then the newest entry is cut. The header and the other
// sections are never cut; over reports that they alone exceed the budget.
func (d *workingDoc) render(employeeID string, now time.Time, budget int) (out string, over bool) {
	header := fmt.Sprintf("# Working Memory: %s\n\n_Updated %s. Recent Tasks is regenerated after every task; edit Notes and Preferences freely._\n",
		employeeID, now.UTC().Format(time.RFC3339))

	texts := make([]string, len(d.entries))
	for i, e := range d.entries {
		texts[i] = e.text
	}

	out = d.build(header, texts, false)
	if len(out) <= budget {
		return out, false
	}
	for len(texts) > 1 {
		texts = texts[:len(texts)-1]
		out = d.build(header, texts, true)
		if len(out) <= budget {
			return out, false
		}
	}
	if len(texts) == 1 {
		fixed := len(d.build(header, []string{""}, true))
		if avail := budget - fixed; avail > 0 {
			out = d.build(header, []string{cutBytes(texts[0], avail)}, true)
			if len(out) <= budget {
				return out, false
			}
		}
	}
	out = d.build(header, nil, true)
	return out, len(out) > budget
}

func (d *workingDoc) build(header string, entries []string, truncated bool) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n## " + sectionRecent + "\n")
	for _, e := range entries {
		b.WriteString("\n" + e + "\n")
	}
	if truncated {
		b.WriteString("\n" + truncationMarker + "\n")
	}
	for _, s := range d.sections {
		b.WriteString("\n## " + s.name + "\n")
		if s.body != "" {
			b.WriteString("\n" + s.body + "\n")
		}
	}
	return b.String()
}

// cutBytes shortens s to at most n bytes on a rune boundary.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRight(s[:cut], " \n")
}

var statusIcons = map[task.Status]string{
	task.StatusCompleted: "✅",
	task.StatusFailed:    "❌",
	task.StatusCancelled: "⛔",
}

func newEntry(m *task.Manifest, now time.Time) entry {
	when := now
	if m.CompletedAt != nil {
		when = *m.CompletedAt
	}
	icon := statusIcons[m.Status]
	if icon == "" {
		icon = "•"
	}

	lines := []string{
		fmt.Sprintf("### %s %s %s", when.UTC().Format("2006-01-02 15:04"), icon, briefTitle(m.Brief)),
		taskLinePrefix + m.ID,
		"- Status: " + string(m.Status),
	}
	if len(m.Outputs) > 0 {
		names := make([]string, 0, entryMaxOutputs)
		for i, o := range m.Outputs {
			if i >= entryMaxOutputs {
				break
			}
			names = append(names, oneLine(o.Title))
		}
		line := "- Outputs: " + strings.Join(names, ", ")
		if extra := len(m.Outputs) - len(names); extra > 0 {
			line += fmt.Sprintf(" (+%d more)", extra)
		}
		lines = append(lines, line)
	}
	if m.ErrorMessage != "" {
		lines = append(lines, "- Error: "+truncateRunes(oneLine(m.ErrorMessage), entryErrorRunes))
	}
	return entry{taskID: m.ID, text: strings.Join(lines, "\n")}
}

// oneLine collapses whitespace so caller text cannot start a new line,
// and with it a new section, inside an entry.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// briefTitle picks the first meaningful line of a brief.
func briefTitle(brief string) string {
	for _, line := range strings.Split(brief, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line != "" {
			return truncateRunes(line, entryBriefRunes)
		}
	}
	return "(no brief)"
}
