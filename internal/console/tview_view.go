package console

import (
	"fmt"
	"log"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TviewView implements ViewImpl with tview.
type TviewView struct {
	logger *log.Logger
	app    *tview.Application

	mainFlex       *tview.Flex
	peerList       *tview.List
	configPanel    *tview.TextView
	telemetryPanel *tview.TextView
	workoutPanel   *tview.TextView
	logView        *tview.TextView
	tabWidgets     []tview.Primitive
}

func NewTviewView(logger *log.Logger, app *tview.Application) *TviewView {
	if logger == nil {
		panic("TviewView: logger cannot be nil")
	}
	if app == nil {
		panic("TviewView: app cannot be nil")
	}
	return &TviewView{logger: logger, app: app}
}

func (ui *TviewView) Initialize(controller *Controller) {
	// No SetChangedFunc with app.Draw here: it can hang on shutdown while log
	// lines are still arriving. BaseView draws after every update.
	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)
	ui.logView.SetBorder(true).SetTitle(" Logs ")

	instructions := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	instructions.SetText("[yellow]S[white] Scan  |  [yellow]Enter[white] Connect  |  [yellow]D[white] Disconnect  |  [yellow]Space[white] Start/Stop  |  [yellow]X[white] Stop  |  [yellow]Esc[white] Quit")

	ui.peerList = tview.NewList().
		ShowSecondaryText(false).
		SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
			ui.logger.Printf("UI: Peer selected: index=%d, text=%s", index, mainText)
			controller.SelectPeer(index)
		})
	ui.peerList.SetBorder(true).SetTitle(" Machines ")

	ui.configPanel = newPanel(" Workout setup ")
	ui.telemetryPanel = newPanel(" Cables ")
	ui.workoutPanel = newPanel(" Workout ")

	ui.tabWidgets = []tview.Primitive{ui.peerList, ui.workoutPanel, ui.logView}

	leftColumn := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(ui.peerList, 0, 1, true).
		AddItem(ui.configPanel, 9, 0, false).
		AddItem(ui.telemetryPanel, 8, 0, false)

	content := tview.NewFlex().
		AddItem(leftColumn, 0, 1, true).
		AddItem(ui.workoutPanel, 0, 1, false).
		AddItem(ui.logView, 0, 1, false)

	ui.mainFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(instructions, 1, 0, false).
		AddItem(content, 0, 1, true)
}

func newPanel(title string) *tview.TextView {
	panel := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	panel.SetBorder(true).SetTitle(title)
	return panel
}

func (ui *TviewView) SetupKeyboardHandlers(controller *Controller) {
	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyTab:
			ui.cycleFocus()
			return nil
		case tcell.KeyEscape:
			controller.OnEscapeKey()
			return nil
		case tcell.KeyRune:
		default:
			return event
		}

		switch event.Rune() {
		case 's', 'S':
			controller.ToggleDiscovery()
		case 'd', 'D':
			controller.DisconnectActivePeer()
		case ' ':
			controller.ToggleWorkout()
		case 'x', 'X':
			controller.StopWorkout()
		case 'h':
			controller.CycleDifficulty(1)
		case 'H':
			controller.CycleDifficulty(-1)
		case 'e':
			controller.AdjustEccentric(-1)
		case 'E':
			controller.AdjustEccentric(1)
		case '+', '=':
			controller.AdjustReps(1)
		case '-':
			controller.AdjustReps(-1)
		case 't', 'T':
			controller.ToggleStopOnTopRep()
		default:
			return event
		}
		return nil
	})
}

func (ui *TviewView) cycleFocus() {
	for i, widget := range ui.tabWidgets {
		if widget.HasFocus() {
			ui.app.SetFocus(ui.tabWidgets[(i+1)%len(ui.tabWidgets)])
			return
		}
	}
	ui.app.SetFocus(ui.tabWidgets[0])
}

func (ui *TviewView) GetLogViewHeight() int {
	_, _, _, height := ui.logView.GetInnerRect()
	return height
}

func (ui *TviewView) ClearLogView() {
	ui.logView.Clear()
}

func (ui *TviewView) WriteLogLine(line string) error {
	_, err := fmt.Fprint(ui.logView, tview.Escape(line))
	return err
}

// SetPeerList replaces the peer list and keeps the cursor on the same entry
// when it is still present.
func (ui *TviewView) SetPeerList(items []string, active int) {
	current := ui.peerList.GetCurrentItem()
	var currentText string
	if current < ui.peerList.GetItemCount() {
		currentText, _ = ui.peerList.GetItemText(current)
		currentText = strings.TrimLeft(currentText, "> ")
	}

	ui.peerList.Clear()
	selected := -1
	for i, item := range items {
		if item == currentText {
			selected = i
		}
		prefix := "  "
		if i == active {
			prefix = "> "
		}
		ui.peerList.AddItem(prefix+item, "", 0, nil)
	}
	if selected > -1 {
		ui.peerList.SetCurrentItem(selected)
	}
}

func (ui *TviewView) SetConfigText(text string) {
	ui.configPanel.SetText(text)
}

func (ui *TviewView) SetTelemetryText(text string) {
	ui.telemetryPanel.SetText(text)
}

func (ui *TviewView) SetWorkoutText(text string) {
	ui.workoutPanel.SetText(text)
}

func (ui *TviewView) Draw() error {
	ui.app.Draw()
	return nil
}

func (ui *TviewView) Run() error {
	// SetRoot before focusing, otherwise focus is reset
	ui.app.SetRoot(ui.mainFlex, true)
	ui.app.SetFocus(ui.peerList)
	return ui.app.Run()
}

func (ui *TviewView) Stop() {
	ui.app.Stop()
}
