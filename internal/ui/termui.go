package ui

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/skalibog/sigbot/internal/config"
	"github.com/skalibog/sigbot/internal/position"
	"github.com/skalibog/sigbot/pkg/logger"
	"github.com/skalibog/sigbot/pkg/models"
	"go.uber.org/zap"
)

// Стили UI
var (
	// Основные цвета
	primaryColor   = lipgloss.Color("#0077cc")
	secondaryColor = lipgloss.Color("#333333")
	errorColor     = lipgloss.Color("#cc3300")
	successColor   = lipgloss.Color("#33cc33")
	warningColor   = lipgloss.Color("#cccc00")

	appStyle = lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(primaryColor).
			Padding(0, 1).
			Align(lipgloss.Center)
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(secondaryColor).
			Padding(0, 1)
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#999999")).
			Padding(0, 1)
)

const (
	maxLogs   = 50
	maxTrades = 10
)

// Source данные торгового цикла для отображения
type Source interface {
	Position() position.Snapshot
	TradeHistory(ctx context.Context, limit int) ([]*models.Trade, error)
}

// TermUI представляет терминальный интерфейс
type TermUI struct {
	config  config.UIConfig
	source  Source
	logFile string
	program *tea.Program

	mu      sync.RWMutex
	report  *models.CycleReport
	lastErr error
	trades  []*models.Trade
	logs    []string
	width   int
	height  int
}

// Сообщения для обновления UI
type refreshMsg struct{}

// bubbleModel - модель для bubbletea
type bubbleModel struct {
	ui *TermUI
}

// NewTermUI создает интерфейс. logFile - JSON-лог, хвост которого показывается в UI.
// Интерфейс закрывается при отмене ctx.
func NewTermUI(ctx context.Context, cfg config.UIConfig, source Source, logFile string) *TermUI {
	ui := newTermUI(cfg, source, logFile)
	ui.program = tea.NewProgram(bubbleModel{ui: ui}, tea.WithAltScreen(), tea.WithContext(ctx))
	return ui
}

func newTermUI(cfg config.UIConfig, source Source, logFile string) *TermUI {
	return &TermUI{
		config:  cfg,
		source:  source,
		logFile: logFile,
		logs:    []string{"sigbot запущен. Ожидание первого цикла..."},
		width:   120,
		height:  40,
	}
}

// Start запускает интерфейс и блокируется до выхода пользователя или отмены ctx
func (ui *TermUI) Start(ctx context.Context) error {
	if err := ui.loadLogsFromFile(); err != nil {
		ui.appendLog(fmt.Sprintf("Ошибка загрузки логов: %v", err))
	}

	refresh := time.Duration(ui.config.RefreshRate) * time.Millisecond
	if refresh <= 0 {
		refresh = time.Second
	}
	go func() {
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ui.loadLogsFromFile(); err != nil {
					logger.Warn("Ошибка загрузки логов", zap.Error(err))
				}
				ui.program.Send(refreshMsg{})
			}
		}
	}()

	if _, err := ui.program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("ошибка запуска UI: %w", err)
	}
	return nil
}

// Stop закрывает интерфейс
func (ui *TermUI) Stop() {
	if ui.program != nil {
		ui.program.Quit()
	}
}

// Update принимает итог цикла от планировщика
func (ui *TermUI) Update(report *models.CycleReport, err error) {
	trades, histErr := ui.source.TradeHistory(context.Background(), maxTrades)
	if histErr != nil {
		logger.Warn("Не удалось получить историю сделок", zap.Error(histErr))
	}

	ui.mu.Lock()
	if report != nil {
		ui.report = report
	}
	ui.lastErr = err
	if histErr == nil {
		ui.trades = trades
	}
	ui.mu.Unlock()

	if ui.program != nil {
		ui.program.Send(refreshMsg{})
	}
}

func (ui *TermUI) appendLog(line string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.logs = append(ui.logs, line)
	if len(ui.logs) > maxLogs {
		ui.logs = ui.logs[len(ui.logs)-maxLogs:]
	}
}

// loadLogsFromFile перечитывает хвост JSON-лога
func (ui *TermUI) loadLogsFromFile() error {
	file, err := os.Open(ui.logFile)
	if err != nil {
		if os.IsNotExist(err) {
			// Файл не существует, это не ошибка
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var logs []string
	for scanner.Scan() {
		logs = append(logs, parseLogLine(scanner.Text()))
		if len(logs) > maxLogs {
			logs = logs[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if len(logs) > 0 {
		ui.mu.Lock()
		ui.logs = logs
		ui.mu.Unlock()
	}
	return nil
}

// Регулярное выражение для удаления ANSI-цветов
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// parseLogLine форматирует строку JSON-лога zap для вывода
func parseLogLine(line string) string {
	var zapLog map[string]interface{}
	if err := json.Unmarshal([]byte(line), &zapLog); err != nil {
		return line
	}

	level, _ := zapLog["level"].(string)
	ts, _ := zapLog["ts"].(string)
	msg, _ := zapLog["msg"].(string)
	level = ansiRegex.ReplaceAllString(level, "")

	timestamp := ""
	if t, err := time.Parse("02.01.2006 - 15:04:05.999999999Z07:00", ts); err == nil {
		timestamp = t.Format("15:04:05")
	}

	keys := make([]string, 0, len(zapLog))
	for k := range zapLog {
		switch k {
		case "level", "ts", "msg", "caller", "cycle", "stacktrace":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", timestamp, level, msg)
	for _, k := range keys {
		fmt.Fprintf(&b, " (%s: %v)", k, zapLog[k])
	}
	return b.String()
}

// Методы для bubbletea
func (m bubbleModel) Init() tea.Cmd {
	return nil
}

func (m bubbleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if err := m.ui.loadLogsFromFile(); err != nil {
				m.ui.appendLog(fmt.Sprintf("Ошибка загрузки логов: %v", err))
			}
		}

	case tea.WindowSizeMsg:
		m.ui.mu.Lock()
		m.ui.width = msg.Width
		m.ui.height = msg.Height
		m.ui.mu.Unlock()

	case refreshMsg:
		// Просто обновляем UI
	}

	return m, nil
}

func (m bubbleModel) View() string {
	return m.ui.render()
}

func (ui *TermUI) render() string {
	snap := ui.source.Position()

	ui.mu.RLock()
	defer ui.mu.RUnlock()

	title := titleStyle.Render(fmt.Sprintf("sigbot - %s", snap.Symbol))
	footer := footerStyle.Render("Клавиши: R - перезагрузить логи, Q - выход")

	return appStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			title,
			"\n",
			lipgloss.JoinHorizontal(lipgloss.Top,
				renderPositionSection(snap, ui.report),
				renderSignalsSection(ui.report, ui.lastErr),
			),
			"\n",
			renderTradesSection(ui.trades),
			"\n",
			renderLogsSection(ui.logs, ui.height),
			"\n",
			footer,
		),
	)
}

func renderPositionSection(snap position.Snapshot, report *models.CycleReport) string {
	var content strings.Builder

	status := lipgloss.NewStyle().Foreground(warningColor).Render(string(position.Flat))
	if snap.Long() {
		status = lipgloss.NewStyle().Foreground(successColor).Bold(true).Render(string(position.Long))
	}
	fmt.Fprintf(&content, "  Статус: %s\n", status)

	if report != nil {
		fmt.Fprintf(&content, "  Цена: %.2f\n", report.Price)
	}
	if snap.Long() {
		fmt.Fprintf(&content, "  Вход: %.2f\n", snap.EntryPrice)
		fmt.Fprintf(&content, "  Количество: %.8f\n", snap.Quantity)
		if report != nil && report.Price > 0 {
			pnl := (report.Price - snap.EntryPrice) * snap.Quantity
			fmt.Fprintf(&content, "  P&L: %s\n", formatPnL(pnl))
		}
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			headerStyle.Render("ПОЗИЦИЯ"),
			content.String(),
		),
	)
}

func renderSignalsSection(report *models.CycleReport, lastErr error) string {
	var content strings.Builder

	if report == nil {
		content.WriteString("  Ожидание данных...\n")
	} else {
		s := report.Signals
		criteria := []struct {
			name string
			met  bool
		}{
			{"SMA пересечение вверх", s.TrendCrossUp},
			{"SMA пересечение вниз", s.TrendCrossDown},
			{"RSI перепроданность", s.MomentumOversold},
			{"RSI перекупленность", s.MomentumOverbought},
		}
		for _, c := range criteria {
			fmt.Fprintf(&content, "  %s %s\n", mark(c.met), c.name)
		}
		fmt.Fprintf(&content, "  Действие: %s (%s)\n", formatAction(report.Action), report.Timestamp.Format("15:04:05"))
	}
	if lastErr != nil {
		content.WriteString("  " + lipgloss.NewStyle().Foreground(errorColor).Render("Ошибка: "+lastErr.Error()) + "\n")
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			headerStyle.Render("СИГНАЛЫ"),
			content.String(),
		),
	)
}

func renderTradesSection(trades []*models.Trade) string {
	var content strings.Builder

	if len(trades) == 0 {
		content.WriteString("  Сделок пока нет\n")
	}
	for _, t := range trades {
		line := fmt.Sprintf("  %s %-4s %.8f @ %.2f [%s]",
			t.Timestamp.Format("02.01 15:04:05"), t.Side, t.Quantity, t.Price, t.Reason)
		if t.Side == models.SideSell {
			line += " P&L " + formatPnL(t.PnL)
		}
		content.WriteString(line + "\n")
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			headerStyle.Render("СДЕЛКИ"),
			content.String(),
		),
	)
}

func renderLogsSection(logs []string, height int) string {
	var content strings.Builder

	// Показываем столько логов, сколько помещается на экране
	maxLogsToShow := maxLogs
	if height > 0 && height/3 < maxLogsToShow {
		maxLogsToShow = max(height/3, 5)
	}

	start := 0
	if len(logs) > maxLogsToShow {
		start = len(logs) - maxLogsToShow
	}

	for _, log := range logs[start:] {
		// Выделение по уровню логирования
		switch {
		case strings.Contains(log, "[ERROR]"):
			log = lipgloss.NewStyle().Foreground(errorColor).Render(log)
		case strings.Contains(log, "[WARN]"):
			log = lipgloss.NewStyle().Foreground(warningColor).Render(log)
		case strings.Contains(log, "[INFO]"):
			log = lipgloss.NewStyle().Foreground(successColor).Render(log)
		case strings.Contains(log, "[DEBUG]"):
			log = lipgloss.NewStyle().Foreground(lipgloss.Color("#9999ff")).Render(log)
		}
		content.WriteString("  " + log + "\n")
	}

	return sectionStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			headerStyle.Render("ЛОГИ"),
			content.String(),
		),
	)
}

func mark(ok bool) string {
	if ok {
		return lipgloss.NewStyle().Foreground(successColor).Render("✓")
	}
	return lipgloss.NewStyle().Foreground(errorColor).Render("✗")
}

func formatAction(a models.Action) string {
	var style lipgloss.Style

	switch a {
	case models.ActionBuy:
		style = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case models.ActionSell, models.ActionRiskExit:
		style = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	case models.ActionSkipped:
		style = lipgloss.NewStyle().Foreground(warningColor)
	default:
		style = lipgloss.NewStyle()
	}

	return style.Render(string(a))
}

func formatPnL(pnl float64) string {
	color := successColor
	if pnl < 0 {
		color = errorColor
	}
	return lipgloss.NewStyle().Foreground(color).Render(fmt.Sprintf("%+.4f", pnl))
}
