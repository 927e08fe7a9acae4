package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// ApplicationFormName is the function the model calls to show an application form.
const ApplicationFormName = "show_application_form"

// ApplicationFormTool asks the client to display an application intake form
// for one job. It is a client action and has no Run method.
type ApplicationFormTool struct{}

// Name returns the name of the tool
func (ApplicationFormTool) Name() string { return ApplicationFormName }

// Description returns the description of the tool
func (ApplicationFormTool) Description() string {
	return "Display an application form to the user when they explicitly express interest in applying for a specific job title."
}

// Parameters returns the JSON schema of the tool arguments.
func (ApplicationFormTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "jobTitle": {"type": "string", "description": "The title of the job the user wants to apply for."},
    "jobId": {"type": "string", "description": "The ID of the job if available."}
  },
  "required": ["jobTitle"]
}`)
}

// ApplicationArgs are the decoded arguments of a show_application_form call.
type ApplicationArgs struct {
	Title string
	ID    string
}

type rawApplicationArgs struct {
	JobTitle     string `json:"jobTitle"`
	JobID        string `json:"jobId"`
	SubjectTitle string `json:"subjectTitle"`
	SubjectID    string `json:"subjectId"`
}

// ParseApplicationArgs decodes call arguments. Both the jobTitle/jobId names
// of the declaration and the generic subjectTitle/subjectId are accepted.
// A missing title is not an error; callers pick their own label.
func ParseApplicationArgs(raw string) (ApplicationArgs, error) {
	if strings.TrimSpace(raw) == "" {
		return ApplicationArgs{}, nil
	}
	var r rawApplicationArgs
	if err := sonic.UnmarshalString(raw, &r); err != nil {
		return ApplicationArgs{}, fmt.Errorf("parse %s arguments: %w", ApplicationFormName, err)
	}
	args := ApplicationArgs{Title: r.JobTitle, ID: r.JobID}
	if args.Title == "" {
		args.Title = r.SubjectTitle
	}
	if args.ID == "" {
		args.ID = r.SubjectID
	}
	args.Title = strings.TrimSpace(args.Title)
	args.ID = strings.TrimSpace(args.ID)
	return args, nil
}
