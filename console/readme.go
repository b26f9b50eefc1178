package console

import (
	"fmt"
	"io"
)

// ReadmeSnippet is the quick-start guide printed by --print-readme.
const ReadmeSnippet = `Vast.ai DeepFaceLab CLI
=======================

Requirements
------------
• Vast.ai CLI installed (pip install vastai) and available on PATH
• Vast.ai API key configured via vastai set api-key or VAST_API_KEY env var
• (Optional) Set VAST_OWNER_ID or pass --owner-id to filter personal templates

Launch
------
dfl-vast

Highlights
----------
• Offer Search: interactive filters, auto-fetch matched volume asks
• Template Manager: list/create DeepFaceLab templates with provisioning script
• Provision Wizard: select offer → template → volume, then create instance
• Instance Tools: run remote commands, tail logs, detect provisioning success

Useful Docs
-----------
• Vast.ai CLI commands: https://docs.vast.ai/cli/commands
• Template advanced setup: https://docs.vast.ai/documentation/templates/advanced-setup
• Storage types & volumes: https://docs.vast.ai/documentation/instances/storage/types
`

// PrintReadme writes the quick-start guide.
func PrintReadme(w io.Writer) {
	fmt.Fprint(w, ReadmeSnippet)
}
