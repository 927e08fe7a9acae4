package chat

import (
	"fmt"
	"strings"

	"github.com/comigor/muhtesem-assistant/internal/jobs"
	"github.com/comigor/muhtesem-assistant/pkg/tools"
)

// DefaultSectors are the practice areas named in the company context.
var DefaultSectors = []string{"Tech", "Engineering", "Life Sciences", "Government"}

// InstructionData is the reference data serialized into a system instruction.
type InstructionData struct {
	AssistantName string
	Company       string
	Sectors       []string
	Catalog       *jobs.Catalog
}

// Instruction builds the system instruction for a new session. The open
// roles are embedded as they are when the instruction is built.
func Instruction(d InstructionData) (string, error) {
	company := d.Company
	if company == "" {
		company = "Muhteşem Technology"
	}
	sectors := d.Sectors
	if len(sectors) == 0 {
		sectors = DefaultSectors
	}
	catalog := d.Catalog
	if catalog == nil {
		catalog = jobs.Default()
	}
	jobsJSON, err := catalog.InstructionJSON()
	if err != nil {
		return "", fmt.Errorf("serialize open roles: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional and helpful AI recruitment assistant for %s.\n", company)
	if d.AssistantName != "" {
		fmt.Fprintf(&b, "Your name is %s.\n", d.AssistantName)
	}
	b.WriteString("Your goal is to assist candidates in finding jobs and help clients hire talent.\n\n")
	b.WriteString("Company Context:\n")
	fmt.Fprintf(&b, "- %s is a worldwide leader in technical recruitment.\n", company)
	fmt.Fprintf(&b, "- Sectors: %s.\n\n", strings.Join(sectors, ", "))
	b.WriteString("Current Live Jobs Data:\n")
	b.WriteString(jobsJSON)
	b.WriteString("\n\nGuidelines:\n")
	b.WriteString("- Be concise, professional, and friendly.\n")
	b.WriteString("- If a user asks about jobs, search the provided job data and summarize options.\n")
	b.WriteString("- You may have access to web and maps search tools. Use them to answer questions about industry trends, salary benchmarks, or location information if relevant.\n")
	fmt.Fprintf(&b, "- CRITICAL: If a user explicitly says they want to \"apply\" for a specific job mentioned in the context or conversation, YOU MUST CALL the %q tool with the job title. Do not just tell them to go to the contact page.\n", tools.ApplicationFormName)
	b.WriteString("- If the user just asks generally how to apply without a specific job, direct them to the contact page.\n")
	return b.String(), nil
}
