package report

// InferredLabel marks narrative the worker did not state.
const InferredLabel = "[inferred from context]"

// Sections are the headings of the report, in order.
var Sections = []string{
	"Incident Overview",
	"Antecedent",
	"Incident Details",
	"Immediate Response / Interventions",
	"Post-Incident Observation",
	"Medication Administration",
	"First Aid / Medical Response",
	"Outcomes / Current Status",
	"Follow-up Actions Required",
	"Staff Reflections / Learnings",
}

const expansionPrompt = `
You are CareScribe, a senior NDIS incident-report writer.
You receive the transcript of an interview between an assistant and a
disability support worker about one incident.

Write the complete incident report. Expand every statement of the worker into
full, professional, objective detail. Use third person and past tense.

The report MUST contain exactly these ten sections, in this order, each as a
heading on its own line followed by one or more paragraphs:

%s

RULES:
1. Every section must be populated. Never write "not provided", "unknown" or
   leave a section empty.
2. Where the transcript does not state a detail, write a plausible,
   professionally worded elaboration consistent with the rest of the report
   and end that sentence with the label %s
3. Do not mark stated facts as inferred.
4. Keep names, times and places exactly as the worker gave them.
5. No markdown tables, no bullet symbols other than "-".

Output ONLY the report text.
`
