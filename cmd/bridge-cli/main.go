package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const maxLines = 500

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))
)

// wireResponse 服务端响应（含欢迎消息字段）
type wireResponse struct {
	ID             json.RawMessage `json:"id"`
	Status         string          `json:"status"`
	Message        string          `json:"message"`
	Data           json.RawMessage `json:"data"`
	ErrorKind      string          `json:"error_kind"`
	Code           int             `json:"code"`
	Venue          string          `json:"venue"`
	VenueConnected *bool           `json:"venue_connected"`
}

type connectedMsg struct {
	conn     *websocket.Conn
	incoming chan []byte
}

type serverMsg []byte

type disconnectedMsg struct{}

type errMsg struct{ err error }

type model struct {
	url      string
	conn     *websocket.Conn
	incoming chan []byte
	pending  map[string]string // 请求 id -> action

	input     []rune
	lines     []string
	height    int
	connected bool
}

func initialModel(url string) model {
	return model{
		url:     url,
		pending: make(map[string]string),
		lines:   []string{dimStyle.Render("正在连接 " + url + " ...")},
		height:  24,
	}
}

func (m model) Init() tea.Cmd {
	return connectCmd(m.url)
}

func (m *model) appendLines(s string) {
	m.lines = append(m.lines, strings.Split(s, "\n")...)
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.closeConn()
			return m, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(string(m.input))
			m.input = m.input[:0]
			if line == "" {
				return m, nil
			}
			m.appendLines(promptStyle.Render("> ") + line)
			return m.submit(line)
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case tea.KeySpace:
			m.input = append(m.input, ' ')
		case tea.KeyRunes:
			m.input = append(m.input, msg.Runes...)
		}

	case tea.WindowSizeMsg:
		m.height = msg.Height

	case connectedMsg:
		m.conn, m.incoming, m.connected = msg.conn, msg.incoming, true
		return m, waitForMessage(m.incoming)

	case serverMsg:
		m.appendLines(formatResponse([]byte(msg), m.pending))
		return m, waitForMessage(m.incoming)

	case disconnectedMsg:
		m.connected = false
		m.appendLines(errStyle.Render("连接已断开，按 Esc 退出"))

	case errMsg:
		m.appendLines(errStyle.Render("错误: " + msg.err.Error()))
	}
	return m, nil
}

// submit 处理一行输入
func (m model) submit(line string) (tea.Model, tea.Cmd) {
	switch strings.ToLower(line) {
	case "quit", "exit":
		m.closeConn()
		return m, tea.Quit
	case "help", "?":
		m.appendLines(dimStyle.Render(helpText))
		return m, nil
	}
	if !m.connected {
		m.appendLines(errStyle.Render("未连接到服务"))
		return m, nil
	}
	req, err := parseCommand(line)
	if err != nil {
		m.appendLines(errStyle.Render(err.Error()))
		return m, nil
	}
	req.ID = uuid.NewString()
	m.pending[req.ID] = req.Action
	if err := m.conn.WriteJSON(req); err != nil {
		delete(m.pending, req.ID)
		m.appendLines(errStyle.Render("发送失败: " + err.Error()))
	}
	return m, nil
}

func (m *model) closeConn() {
	if m.conn != nil {
		_ = m.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = m.conn.Close()
	}
}

func (m model) View() string {
	status := errStyle.Render("未连接")
	if m.connected {
		status = okStyle.Render("已连接")
	}
	header := headerStyle.Render("交易桥 CLI") + " " + dimStyle.Render(m.url) + " " + status

	body := m.lines
	if room := m.height - 4; room > 0 && len(body) > room {
		body = body[len(body)-room:]
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(body, "\n"))
	b.WriteString("\n")
	b.WriteString(promptStyle.Render("> ") + string(m.input) + "█")
	return b.String()
}

// Commands

func connectCmd(url string) tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			return errMsg{fmt.Errorf("连接 %s 失败: %w", url, err)}
		}
		ch := make(chan []byte, 64)
		go func() {
			defer close(ch)
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				ch <- data
			}
		}()
		return connectedMsg{conn: conn, incoming: ch}
	}
}

func waitForMessage(ch <-chan []byte) tea.Cmd {
	return func() tea.Msg {
		data, ok := <-ch
		if !ok {
			return disconnectedMsg{}
		}
		return serverMsg(data)
	}
}

// formatResponse 渲染一条服务端消息；已匹配的请求 id 从 pending 中移除
func formatResponse(raw []byte, pending map[string]string) string {
	var r wireResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return errStyle.Render("无法解析的消息: " + string(raw))
	}

	if len(r.ID) == 0 && r.Venue != "" {
		connected := r.VenueConnected != nil && *r.VenueConnected
		return okStyle.Render(fmt.Sprintf("%s (场所=%s, 已连接=%v)", r.Message, r.Venue, connected))
	}

	action := ""
	var id string
	if err := json.Unmarshal(r.ID, &id); err == nil {
		action = pending[id]
		delete(pending, id)
	}

	head := r.Status
	if action != "" {
		head = action + " " + r.Status
	}
	if r.Message != "" {
		head += ": " + r.Message
	}
	style := okStyle
	if r.Status != "success" {
		style = errStyle
		if r.ErrorKind != "" {
			head += " [" + r.ErrorKind + "]"
		}
	}

	out := style.Render(head)
	if len(r.Data) > 0 && string(r.Data) != "null" {
		var buf bytes.Buffer
		if err := json.Indent(&buf, r.Data, "  ", "  "); err == nil {
			out += "\n  " + buf.String()
		}
	}
	return out
}

// runOnce 非交互模式：发送一条命令，打印响应后退出
func runOnce(url, line string, timeout time.Duration) error {
	req, err := parseCommand(line)
	if err != nil {
		return err
	}
	req.ID = uuid.NewString()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("连接 %s 失败: %w", url, err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	pending := map[string]string{req.ID: req.Action}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var r wireResponse
		if json.Unmarshal(data, &r) != nil || len(r.ID) == 0 {
			continue
		}
		fmt.Println(formatResponse(data, pending))
		if r.Status != "success" {
			return fmt.Errorf("请求失败")
		}
		return nil
	}
}

func main() {
	var (
		url     = flag.String("url", "ws://127.0.0.1:8766/ws", "交易桥 WebSocket 地址")
		exec    = flag.String("e", "", "执行一条命令后退出，例如 -e \"positions BTCUSDT\"")
		timeout = flag.Duration("timeout", 100*time.Second, "-e 模式下等待响应的超时")
	)
	flag.Parse()

	if *exec != "" {
		if err := runOnce(*url, *exec, *timeout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if len(os.Getenv("DEBUG")) > 0 {
		f, err := tea.LogToFile("debug.log", "debug")
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
	}

	p := tea.NewProgram(initialModel(*url), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("运行程序失败: %v", err)
	}
}
