package dispatcher

import "strings"

type commandKind string

const (
	commandHelp   commandKind = "help"
	commandStatus commandKind = "status"
	commandPDF    commandKind = "pdf"
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand recognizes the free informational commands. Anything else is
// free-form content for analysis.
func parseCommand(text string) (command, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || len(fields) > 2 {
		return command{}, false
	}

	kind := commandKind(strings.ToLower(fields[0]))
	switch kind {
	case commandHelp:
		if len(fields) != 1 {
			return command{}, false
		}
		return command{kind: commandHelp}, true
	case commandStatus, commandPDF:
		arg := ""
		if len(fields) == 2 {
			arg = fields[1]
		}
		return command{kind: kind, arg: arg}, true
	default:
		return command{}, false
	}
}

const helpText = `ScamShield checker

Send me anything you want checked:
- a suspicious message (paste the text)
- a link
- an image, video, or voice note

Commands:
  help           show this message
  status <id>    check a long-running analysis
  pdf <id>       get the full PDF report

Daily analyses are limited per sender; commands are always free.`

const unsupportedText = `I can only analyze text, links, images, videos, and voice notes.
Forward the suspicious content directly, or send "help" for instructions.`

const shortTextHint = `That message is too short to analyze. Paste the full suspicious text, or send "help" for instructions.`

const workingText = `Analyzing... this can take a moment for images, videos, and audio.`
