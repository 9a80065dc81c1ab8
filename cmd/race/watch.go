package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	cl "racegame/internal/cli"
	"racegame/internal/race"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	leaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type snapshotMsg struct {
	game  cl.GameResponse
	cars  cl.CarsResponse
	pools cl.PoolsResponse
}

type fetchErrMsg struct{ err error }

type tickMsg time.Time

type watchModel struct {
	client *cl.Client
	every  time.Duration
	bars   [2]progress.Model
	snap   *snapshotMsg
	err    error
	now    time.Time
}

func newWatchModel(client *cl.Client, every time.Duration) watchModel {
	width := 40
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 30 {
		width = w - 24
	}
	m := watchModel{client: client, every: every, now: time.Now()}
	for i := range m.bars {
		m.bars[i] = progress.New(progress.WithDefaultGradient(), progress.WithWidth(width), progress.WithoutPercentage())
	}
	return m
}

func runWatch(client *cl.Client, every time.Duration) error {
	if every < 250*time.Millisecond {
		every = 250 * time.Millisecond
	}
	_, err := tea.NewProgram(newWatchModel(client, every), tea.WithAltScreen()).Run()
	return err
}

func (m watchModel) fetch() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	game, err := m.client.Game(ctx)
	if err != nil {
		return fetchErrMsg{err}
	}
	cars, err := m.client.Cars(ctx)
	if err != nil {
		return fetchErrMsg{err}
	}
	pools, err := m.client.Pools(ctx)
	if err != nil {
		return fetchErrMsg{err}
	}
	return snapshotMsg{game: game, cars: cars, pools: pools}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return m.fetch
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch
		}
	case tea.WindowSizeMsg:
		for i := range m.bars {
			m.bars[i].Width = max(10, msg.Width-24)
		}
	case snapshotMsg:
		m.snap, m.err, m.now = &msg, nil, time.Now()
		return m, m.tick()
	case fetchErrMsg:
		m.err, m.now = msg.err, time.Now()
		return m, m.tick()
	case tickMsg:
		return m, m.fetch
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("RACE") + "\n\n")
	if m.snap == nil {
		if m.err != nil {
			b.WriteString(errStyle.Render(m.err.Error()) + "\n")
		} else {
			b.WriteString(mutedStyle.Render("loading...") + "\n")
		}
		return b.String()
	}

	s := m.snap
	b.WriteString(fmt.Sprintf("%s   players %d/%d   items %d   time left %s\n\n",
		s.game.Phase, s.game.Game.TotalPlayers, s.game.Game.MaxPlayers, s.game.Game.TotalItems, remaining(s.game.Game, m.now)))

	top := max(s.cars.Cars[0].CurrentSpeed, s.cars.Cars[1].CurrentSpeed, 1)
	var lanes []string
	for i, c := range s.cars.Cars {
		label := fmt.Sprintf("car %d", i+1)
		if s.cars.Leader == i+1 {
			label = leaderStyle.Render(label)
		}
		pct := float64(max(c.CurrentSpeed, 0)) / float64(top)
		lanes = append(lanes, fmt.Sprintf("%s %s %5d", label, m.bars[i].ViewAs(pct), c.CurrentSpeed))
	}
	b.WriteString(boxStyle.Render(strings.Join(lanes, "\n")) + "\n\n")

	b.WriteString(fmt.Sprintf("prize %s   community %s   reserve %s\n",
		race.FormatTON(s.pools.PrizePool), race.FormatTON(s.pools.CommunityPool), race.FormatTON(s.pools.ReservePool)))
	if m.err != nil {
		b.WriteString(errStyle.Render("refresh failed: "+m.err.Error()) + "\n")
	}
	b.WriteString(mutedStyle.Render("\nq quit, r refresh") + "\n")
	return b.String()
}
