package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/clawwork/livebench/internal/logger"
	"github.com/clawwork/livebench/internal/tenant"
)

var (
	// ErrAgentNotFound is returned when the signature has no data dir.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrNoEconomicData is returned when an agent has no balance file.
	ErrNoEconomicData = errors.New("no economic data found")

	// ErrLogNotFound is returned when no terminal log exists for a date.
	ErrLogNotFound = errors.New("log not found")

	// ErrInvalidPath is returned for malformed artifact paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrOutsideRoot is returned when a path escapes the tenant's data dir.
	ErrOutsideRoot = errors.New("path outside tenant data")

	// ErrFileNotFound is returned when a resolved artifact does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidDate is returned for terminal-log dates that are not
	// YYYY-MM-DD.
	ErrInvalidDate = errors.New("invalid date")
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var artifactMIMETypes = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
}

// Entry is a loosely typed JSON-lines record.
type Entry map[string]any

// RunningChecker reports whether a live simulation exists for an agent
// signature. The supervisor implements it.
type RunningChecker interface {
	RunningID(tctx tenant.Context, signature string) (string, bool)
}

// AgentData shapes per-agent telemetry files into API responses.
type AgentData struct {
	taskValues map[string]float64
	running    RunningChecker
	log        logger.Logger
}

// NewAgentData creates the read layer. taskValuesPath points at the
// optional task market-value JSONL; a missing file means no values.
func NewAgentData(taskValuesPath string, running RunningChecker, log logger.Logger) *AgentData {
	return &AgentData{
		taskValues: loadTaskValues(taskValuesPath, log),
		running:    running,
		log:        log,
	}
}

func loadTaskValues(path string, log logger.Logger) map[string]float64 {
	values := make(map[string]float64)
	if path == "" {
		return values
	}
	f, err := os.Open(path)
	if err != nil {
		return values
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry struct {
			TaskID   string   `json:"task_id"`
			ValueUSD *float64 `json:"task_value_usd"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.TaskID != "" && entry.ValueUSD != nil {
			values[entry.TaskID] = *entry.ValueUSD
		}
	}
	if len(values) > 0 {
		log.Info("Task values loaded",
			logger.String("path", path),
			logger.Int("count", len(values)))
	}
	return values
}

// AgentStatus is one row of the agent listing.
type AgentStatus struct {
	Signature       string  `json:"signature"`
	Balance         float64 `json:"balance"`
	NetWorth        float64 `json:"net_worth"`
	SurvivalStatus  string  `json:"survival_status"`
	CurrentActivity *string `json:"current_activity"`
	CurrentDate     *string `json:"current_date"`
	TotalTokenCost  float64 `json:"total_token_cost"`
	IsRunning       bool    `json:"is_running"`
	SimulationID    *string `json:"simulation_id"`
}

// Agents lists every agent with data under the tenant, with its latest
// balance snapshot, latest decision, and registry liveness.
func (a *AgentData) Agents(tctx tenant.Context) []AgentStatus {
	agents := []AgentStatus{}
	for _, signature := range a.agentDirs(tctx) {
		dir := filepath.Join(tctx.AgentDataDir(), signature)

		balance := lastEntry(readEntries(filepath.Join(dir, "economic", "balance.jsonl")))
		if balance == nil {
			continue
		}

		status := AgentStatus{
			Signature:      signature,
			Balance:        floatField(balance, "balance"),
			NetWorth:       floatField(balance, "net_worth"),
			SurvivalStatus: stringFieldDefault(balance, "survival_status", "unknown"),
			TotalTokenCost: floatField(balance, "total_token_cost"),
		}
		if decision := lastEntry(readEntries(filepath.Join(dir, "decisions", "decisions.jsonl"))); decision != nil {
			status.CurrentActivity = optionalString(decision, "activity")
			status.CurrentDate = optionalString(decision, "date")
		}
		if a.running != nil {
			if id, ok := a.running.RunningID(tctx, signature); ok {
				status.IsRunning = true
				status.SimulationID = &id
			}
		}
		agents = append(agents, status)
	}
	return agents
}

// CurrentStatus summarizes an agent's latest telemetry.
type CurrentStatus struct {
	Balance            float64  `json:"balance"`
	NetWorth           float64  `json:"net_worth"`
	SurvivalStatus     string   `json:"survival_status"`
	TotalTokenCost     float64  `json:"total_token_cost"`
	TotalWorkIncome    float64  `json:"total_work_income"`
	CurrentActivity    *string  `json:"current_activity"`
	CurrentDate        *string  `json:"current_date"`
	AvgEvaluationScore *float64 `json:"avg_evaluation_score"`
	NumEvaluations     int      `json:"num_evaluations"`
}

// AgentDetail is the full per-agent view.
type AgentDetail struct {
	Signature        string        `json:"signature"`
	CurrentStatus    CurrentStatus `json:"current_status"`
	BalanceHistory   []Entry       `json:"balance_history"`
	Decisions        []Entry       `json:"decisions"`
	EvaluationScores []float64     `json:"evaluation_scores"`
}

// Detail returns the full history for one agent.
func (a *AgentData) Detail(tctx tenant.Context, signature string) (*AgentDetail, error) {
	dir, err := a.agentDir(tctx, signature)
	if err != nil {
		return nil, err
	}

	balanceHistory := readEntries(filepath.Join(dir, "economic", "balance.jsonl"))
	decisions := readEntries(filepath.Join(dir, "decisions", "decisions.jsonl"))
	scores := evaluationScores(filepath.Join(dir, "work", "evaluations.jsonl"))

	status := CurrentStatus{
		SurvivalStatus: "unknown",
		NumEvaluations: len(scores),
	}
	if latest := lastEntry(balanceHistory); latest != nil {
		status.Balance = floatField(latest, "balance")
		status.NetWorth = floatField(latest, "net_worth")
		status.SurvivalStatus = stringFieldDefault(latest, "survival_status", "unknown")
		status.TotalTokenCost = floatField(latest, "total_token_cost")
		status.TotalWorkIncome = floatField(latest, "total_work_income")
	}
	if latest := lastEntry(decisions); latest != nil {
		status.CurrentActivity = optionalString(latest, "activity")
		status.CurrentDate = optionalString(latest, "date")
	}
	if len(scores) > 0 {
		avg := average(scores)
		status.AvgEvaluationScore = &avg
	}

	return &AgentDetail{
		Signature:        signature,
		CurrentStatus:    status,
		BalanceHistory:   balanceHistory,
		Decisions:        decisions,
		EvaluationScores: scores,
	}, nil
}

// Tasks returns the agent's assigned tasks merged with their
// evaluations and market values.
func (a *AgentData) Tasks(tctx tenant.Context, signature string) ([]Entry, error) {
	dir, err := a.agentDir(tctx, signature)
	if err != nil {
		return nil, err
	}

	tasks := readEntries(filepath.Join(dir, "work", "tasks.jsonl"))

	evaluations := make(map[string]Entry)
	for _, eval := range readEntries(filepath.Join(dir, "work", "evaluations.jsonl")) {
		if id, ok := eval["task_id"].(string); ok && id != "" {
			evaluations[id] = eval
		}
	}

	for _, task := range tasks {
		id, _ := task["task_id"].(string)
		if value, ok := a.taskValues[id]; ok && id != "" {
			task["task_value_usd"] = value
		}
		eval, ok := evaluations[id]
		if !ok {
			task["completed"] = false
			task["payment"] = 0.0
			task["evaluation_score"] = nil
			continue
		}
		task["evaluation"] = eval
		task["completed"] = true
		task["payment"] = floatField(eval, "payment")
		task["feedback"] = stringFieldDefault(eval, "feedback", "")
		task["evaluation_score"] = eval["evaluation_score"]
		task["evaluation_method"] = stringFieldDefault(eval, "evaluation_method", "heuristic")
	}
	return tasks, nil
}

// LearningEntry is one memory record.
type LearningEntry struct {
	Topic     string `json:"topic"`
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
	Content   string `json:"content"`
}

// Learning is the agent's memory plus a rendered markdown summary.
type Learning struct {
	Memory  string          `json:"memory"`
	Entries []LearningEntry `json:"entries"`
}

// Learning returns the agent's learning memory.
func (a *AgentData) Learning(tctx tenant.Context, signature string) (*Learning, error) {
	dir, err := a.agentDir(tctx, signature)
	if err != nil {
		return nil, err
	}

	entries := []LearningEntry{}
	for _, raw := range readEntries(filepath.Join(dir, "memory", "memory.jsonl")) {
		entries = append(entries, LearningEntry{
			Topic:     stringFieldDefault(raw, "topic", "Unknown"),
			Timestamp: stringFieldDefault(raw, "timestamp", ""),
			Date:      stringFieldDefault(raw, "date", ""),
			Content:   stringFieldDefault(raw, "knowledge", ""),
		})
	}

	sections := make([]string, 0, len(entries))
	for _, e := range entries {
		sections = append(sections, "## "+e.Topic+" ("+e.Date+")\n"+e.Content)
	}

	return &Learning{
		Memory:  strings.Join(sections, "\n\n"),
		Entries: entries,
	}, nil
}

// Economic is the per-agent economic time series.
type Economic struct {
	Balance         float64   `json:"balance"`
	TotalTokenCost  float64   `json:"total_token_cost"`
	TotalWorkIncome float64   `json:"total_work_income"`
	NetWorth        float64   `json:"net_worth"`
	SurvivalStatus  string    `json:"survival_status"`
	Dates           []string  `json:"dates"`
	BalanceHistory  []float64 `json:"balance_history"`
	TokenCosts      []float64 `json:"token_costs"`
	WorkIncome      []float64 `json:"work_income"`
}

// Economic returns the agent's balance series and latest totals.
func (a *AgentData) Economic(tctx tenant.Context, signature string) (*Economic, error) {
	dir, err := a.agentDir(tctx, signature)
	if err != nil {
		return nil, err
	}

	entries := readEntries(filepath.Join(dir, "economic", "balance.jsonl"))
	if len(entries) == 0 {
		return nil, ErrNoEconomicData
	}

	out := &Economic{
		Dates:          make([]string, 0, len(entries)),
		BalanceHistory: make([]float64, 0, len(entries)),
		TokenCosts:     make([]float64, 0, len(entries)),
		WorkIncome:     make([]float64, 0, len(entries)),
	}
	for _, e := range entries {
		out.Dates = append(out.Dates, stringFieldDefault(e, "date", ""))
		out.BalanceHistory = append(out.BalanceHistory, floatField(e, "balance"))
		out.TokenCosts = append(out.TokenCosts, floatField(e, "daily_token_cost"))
		out.WorkIncome = append(out.WorkIncome, floatField(e, "work_income_delta"))
	}

	latest := entries[len(entries)-1]
	out.Balance = floatField(latest, "balance")
	out.TotalTokenCost = floatField(latest, "total_token_cost")
	out.TotalWorkIncome = floatField(latest, "total_work_income")
	out.NetWorth = floatField(latest, "net_worth")
	out.SurvivalStatus = stringFieldDefault(latest, "survival_status", "unknown")
	return out, nil
}

// LeaderboardEntry is one agent's summary row.
type LeaderboardEntry struct {
	Signature       string   `json:"signature"`
	InitialBalance  float64  `json:"initial_balance"`
	CurrentBalance  float64  `json:"current_balance"`
	PctChange       float64  `json:"pct_change"`
	TotalTokenCost  float64  `json:"total_token_cost"`
	TotalWorkIncome float64  `json:"total_work_income"`
	NetWorth        float64  `json:"net_worth"`
	SurvivalStatus  string   `json:"survival_status"`
	NumTasks        int      `json:"num_tasks"`
	AvgEvalScore    *float64 `json:"avg_eval_score"`
	BalanceHistory  []Entry  `json:"balance_history"`
}

// Leaderboard summarizes every agent, sorted by current balance
// descending. The balance history is stripped to chart fields and the
// initialization entry is dropped.
func (a *AgentData) Leaderboard(tctx tenant.Context) []LeaderboardEntry {
	rows := []LeaderboardEntry{}
	for _, signature := range a.agentDirs(tctx) {
		dir := filepath.Join(tctx.AgentDataDir(), signature)

		history := readEntries(filepath.Join(dir, "economic", "balance.jsonl"))
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		initial := floatField(history[0], "balance")
		current := floatField(latest, "balance")
		pctChange := 0.0
		if initial != 0 {
			pctChange = round1((current - initial) / initial * 100)
		}

		scores := evaluationScores(filepath.Join(dir, "work", "evaluations.jsonl"))
		var avgScore *float64
		if len(scores) > 0 {
			avg := average(scores)
			avgScore = &avg
		}

		stripped := []Entry{}
		for _, e := range history {
			if stringFieldDefault(e, "date", "") == "initialization" {
				continue
			}
			stripped = append(stripped, Entry{
				"date":                         e["date"],
				"balance":                      floatField(e, "balance"),
				"task_completion_time_seconds": e["task_completion_time_seconds"],
			})
		}

		rows = append(rows, LeaderboardEntry{
			Signature:       signature,
			InitialBalance:  initial,
			CurrentBalance:  current,
			PctChange:       pctChange,
			TotalTokenCost:  floatField(latest, "total_token_cost"),
			TotalWorkIncome: floatField(latest, "total_work_income"),
			NetWorth:        floatField(latest, "net_worth"),
			SurvivalStatus:  stringFieldDefault(latest, "survival_status", "unknown"),
			NumTasks:        len(scores),
			AvgEvalScore:    avgScore,
			BalanceHistory:  stripped,
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].CurrentBalance > rows[j].CurrentBalance
	})
	return rows
}

// Artifact describes one agent-produced document.
type Artifact struct {
	Agent     string `json:"agent"`
	Date      string `json:"date"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	SizeBytes int64  `json:"size_bytes"`
	Path      string `json:"path"`
}

var skippedArtifactDirs = map[string]bool{
	"code_exec":       true,
	"videos":          true,
	"reference_files": true,
}

// RandomArtifacts samples up to count artifact documents from the
// tenant's sandbox trees.
func (a *AgentData) RandomArtifacts(tctx tenant.Context, count int) []Artifact {
	artifacts := []Artifact{}
	for _, signature := range a.agentDirs(tctx) {
		sandbox := filepath.Join(tctx.AgentDataDir(), signature, "sandbox")
		dateDirs, err := os.ReadDir(sandbox)
		if err != nil {
			continue
		}
		for _, dateDir := range dateDirs {
			if !dateDir.IsDir() {
				continue
			}
			base := filepath.Join(sandbox, dateDir.Name())
			filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if skippedArtifactDirs[d.Name()] {
						return filepath.SkipDir
					}
					return nil
				}
				ext := strings.ToLower(filepath.Ext(path))
				if _, ok := artifactMIMETypes[ext]; !ok {
					return nil
				}
				info, err := d.Info()
				if err != nil {
					return nil
				}
				rel, err := filepath.Rel(tctx.AgentDataDir(), path)
				if err != nil {
					return nil
				}
				artifacts = append(artifacts, Artifact{
					Agent:     signature,
					Date:      dateDir.Name(),
					Filename:  d.Name(),
					Extension: ext,
					SizeBytes: info.Size(),
					Path:      rel,
				})
				return nil
			})
		}
	}

	if len(artifacts) > count {
		rand.Shuffle(len(artifacts), func(i, j int) {
			artifacts[i], artifacts[j] = artifacts[j], artifacts[i]
		})
		artifacts = artifacts[:count]
	}
	return artifacts
}

// ResolveArtifact maps a relative artifact path to an absolute file
// confined to the tenant's agent-data dir, with its MIME type.
func (a *AgentData) ResolveArtifact(tctx tenant.Context, relPath string) (string, string, error) {
	if relPath == "" || strings.Contains(relPath, "..") {
		return "", "", ErrInvalidPath
	}

	root, err := filepath.Abs(tctx.AgentDataDir())
	if err != nil {
		return "", "", err
	}
	resolved := filepath.Clean(filepath.Join(root, relPath))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", "", ErrOutsideRoot
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return "", "", ErrFileNotFound
	}

	mime := artifactMIMETypes[strings.ToLower(filepath.Ext(resolved))]
	if mime == "" {
		mime = "application/octet-stream"
	}
	return resolved, mime, nil
}

// TerminalLog returns the agent's terminal log for a date, capped at
// maxBytes. The date must be YYYY-MM-DD.
func (a *AgentData) TerminalLog(tctx tenant.Context, signature, date string, maxBytes int64) (string, error) {
	if !datePattern.MatchString(date) {
		return "", ErrInvalidDate
	}
	dir, err := a.agentDir(tctx, signature)
	if err != nil {
		return "", err
	}

	f, err := os.Open(filepath.Join(dir, "terminal_logs", date+".log"))
	if err != nil {
		return "", ErrLogNotFound
	}
	defer f.Close()

	reader := io.Reader(f)
	if maxBytes > 0 {
		reader = io.LimitReader(f, maxBytes)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// agentDir resolves the signature to its data dir, rejecting
// signatures that are not a plain directory name.
func (a *AgentData) agentDir(tctx tenant.Context, signature string) (string, error) {
	if signature == "" || strings.ContainsAny(signature, "/\\") || strings.Contains(signature, "..") {
		return "", ErrAgentNotFound
	}
	dir := filepath.Join(tctx.AgentDataDir(), signature)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", ErrAgentNotFound
	}
	return dir, nil
}

func (a *AgentData) agentDirs(tctx tenant.Context) []string {
	entries, err := os.ReadDir(tctx.AgentDataDir())
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

// readEntries parses a JSON-lines file, skipping blank and malformed
// lines. A missing file reads as empty.
func readEntries(path string) []Entry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func evaluationScores(path string) []float64 {
	scores := []float64{}
	for _, e := range readEntries(path) {
		if v, ok := e["evaluation_score"].(float64); ok {
			scores = append(scores, v)
		}
	}
	return scores
}

func lastEntry(entries []Entry) Entry {
	if len(entries) == 0 {
		return nil
	}
	return entries[len(entries)-1]
}

func floatField(e Entry, key string) float64 {
	v, _ := e[key].(float64)
	return v
}

func stringFieldDefault(e Entry, key, def string) string {
	if v, ok := e[key].(string); ok && v != "" {
		return v
	}
	return def
}

func optionalString(e Entry, key string) *string {
	if v, ok := e[key].(string); ok {
		return &v
	}
	return nil
}

func average(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
