package console

// LogWriter feeds log output into the log pane. Lines are dropped while the
// channel is full so logging never blocks on the terminal.
type LogWriter struct {
	ch chan string
}

func NewLogWriter(buffer int) *LogWriter {
	return &LogWriter{ch: make(chan string, buffer)}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	select {
	case w.ch <- string(p):
	default:
	}
	return len(p), nil
}

// Lines is the channel handed to NewModel.
func (w *LogWriter) Lines() <-chan string {
	return w.ch
}
