package services

import (
	"context"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soaringjerry/Quill/internal/models"
)

// textSampleLimit caps text answers in the whole-form view.
const textSampleLimit = 5

type AnalyticsStore interface {
	GetForm(ctx context.Context, id string) (*models.Form, error)
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	// ListFinalResponses returns live, non-draft responses ordered by submission time.
	ListFinalResponses(ctx context.Context, formID string) ([]*models.Response, error)
}

type AnalyticsService struct {
	store AnalyticsStore
}

type ChoiceStats struct {
	Distribution map[string]int `json:"distribution"`
}

type ScaleStats struct {
	Average      string      `json:"average"`
	Min          *int        `json:"min"`
	Max          *int        `json:"max"`
	Distribution map[int]int `json:"distribution"`
}

type DateStats struct {
	Earliest *time.Time `json:"earliest"`
	Latest   *time.Time `json:"latest"`
	Answers  []string   `json:"answers"`
}

type TextStats struct {
	Answers []string `json:"answers"`
}

type QuestionAnalysis struct {
	QuestionID     string              `json:"question_id"`
	Title          string              `json:"title"`
	Type           models.QuestionType `json:"type"`
	TotalAnswers   int                 `json:"total_answers"`
	InvalidAnswers int                 `json:"invalid_answers,omitempty"`
	Text           *TextStats          `json:"text,omitempty"`
	Choice         *ChoiceStats        `json:"choice,omitempty"`
	Scale          *ScaleStats         `json:"scale,omitempty"`
	Date           *DateStats          `json:"date,omitempty"`
}

type FormAnalysis struct {
	FormID            string             `json:"form_id"`
	FormTitle         string             `json:"form_title"`
	TotalResponses    int                `json:"total_responses"`
	QuestionsAnalysis []QuestionAnalysis `json:"questions_analysis"`
	Alpha             float64            `json:"alpha"`
	N                 int                `json:"n"`
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

func canReadDashboard(actor Identity) error {
	return requireRole(actor, models.RoleAdmin, models.RoleTeacherAnalyst)
}

// AnalyzeQuestion aggregates one question of a form over all final responses.
// Text answers are returned uncapped.
func (s *AnalyticsService) AnalyzeQuestion(ctx context.Context, actor Identity, formID, questionID string) (*QuestionAnalysis, error) {
	if err := canReadDashboard(actor); err != nil {
		return nil, err
	}
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, NewNotFoundError("form not found")
	}
	if !form.HasQuestion(questionID) {
		return nil, NewNotFoundError("question not found")
	}
	q, err := s.store.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("question not found")
	}
	responses, err := s.store.ListFinalResponses(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	qa := analyzeQuestion(q, collectAnswers(responses, q.ID), 0)
	return &qa, nil
}

// AnalyzeForm aggregates every live question of the form in declared order.
// Zero responses yield zero-valued statistics, not an error.
func (s *AnalyticsService) AnalyzeForm(ctx context.Context, actor Identity, formID string) (*FormAnalysis, error) {
	if err := canReadDashboard(actor); err != nil {
		return nil, err
	}
	form, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	if form == nil {
		return nil, NewNotFoundError("form not found")
	}
	questions, err := liveQuestions(ctx, s.store, form)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListFinalResponses(ctx, form.ID)
	if err != nil {
		return nil, err
	}
	out := &FormAnalysis{
		FormID:            form.ID,
		FormTitle:         form.Title,
		TotalResponses:    len(responses),
		QuestionsAnalysis: make([]QuestionAnalysis, 0, len(questions)),
	}
	var scaleQuestions []*models.Question
	for _, q := range questions {
		out.QuestionsAnalysis = append(out.QuestionsAnalysis, analyzeQuestion(q, collectAnswers(responses, q.ID), textSampleLimit))
		if q.Type == models.QuestionScale {
			scaleQuestions = append(scaleQuestions, q)
		}
	}
	matrix := scaleMatrix(scaleQuestions, responses)
	out.Alpha = CronbachAlpha(matrix)
	out.N = len(matrix)
	return out, nil
}

type questionGetter interface {
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
}

// liveQuestions resolves the form's questions in order, skipping deleted ones.
func liveQuestions(ctx context.Context, store questionGetter, form *models.Form) ([]*models.Question, error) {
	entries := append([]models.FormQuestion(nil), form.Questions...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Order < entries[j].Order })
	out := make([]*models.Question, 0, len(entries))
	for _, fq := range entries {
		q, err := store.GetQuestion(ctx, fq.QuestionID)
		if err != nil {
			return nil, err
		}
		if q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

// collectAnswers returns one value per response that answered qid, in response order.
func collectAnswers(responses []*models.Response, qid string) []models.AnswerValue {
	out := []models.AnswerValue{}
	for _, r := range responses {
		if v, ok := r.AnswerFor(qid); ok && v.Present() {
			out = append(out, v)
		}
	}
	return out
}

// analyzeQuestion branches on question type. textLimit > 0 caps text samples.
func analyzeQuestion(q *models.Question, values []models.AnswerValue, textLimit int) QuestionAnalysis {
	qa := QuestionAnalysis{QuestionID: q.ID, Title: q.Title, Type: q.Type, TotalAnswers: len(values)}
	switch q.Type {
	case models.QuestionMultipleChoice, models.QuestionDropdown:
		dist := map[string]int{}
		for _, v := range values {
			for _, s := range v.Values() {
				dist[s]++
			}
		}
		qa.Choice = &ChoiceStats{Distribution: dist}
	case models.QuestionCheckbox:
		dist := map[string]int{}
		for _, v := range values {
			for _, s := range checkboxSelections(v) {
				dist[s]++
			}
		}
		qa.Choice = &ChoiceStats{Distribution: dist}
	case models.QuestionScale:
		qa.Scale, qa.InvalidAnswers = scaleStats(q, values)
	case models.QuestionDate:
		qa.Date, qa.InvalidAnswers = dateStats(q, values)
	default:
		answers := make([]string, 0, len(values))
		for _, v := range values {
			answers = append(answers, v.String())
		}
		if textLimit > 0 && len(answers) > textLimit {
			answers = answers[:textLimit]
		}
		qa.Text = &TextStats{Answers: answers}
	}
	return qa
}

// checkboxSelections normalizes an array or a comma-delimited string to the
// list of selected option values.
func checkboxSelections(v models.AnswerValue) []string {
	raw := v.Values()
	if !v.IsMultiple() && len(raw) == 1 {
		raw = strings.Split(raw[0], ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseScale reads an integer answer. Decimal input is truncated toward zero.
func parseScale(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

func scaleStats(q *models.Question, values []models.AnswerValue) (*ScaleStats, int) {
	st := &ScaleStats{Average: "0", Distribution: map[int]int{}}
	invalid := 0
	sum, count := 0, 0
	for _, v := range values {
		n, ok := parseScale(v.String())
		if !ok {
			invalid++
			log.Printf("analytics: skip unparseable scale answer %q for question %s", v.String(), q.ID)
			continue
		}
		if count == 0 || n < *st.Min {
			m := n
			st.Min = &m
		}
		if count == 0 || n > *st.Max {
			m := n
			st.Max = &m
		}
		sum += n
		count++
		st.Distribution[n]++
	}
	if count > 0 {
		st.Average = strconv.FormatFloat(float64(sum)/float64(count), 'f', 2, 64)
	}
	return st, invalid
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func dateStats(q *models.Question, values []models.AnswerValue) (*DateStats, int) {
	st := &DateStats{Answers: make([]string, 0, len(values))}
	stamps := make([]time.Time, 0, len(values))
	invalid := 0
	for _, v := range values {
		raw := v.String()
		st.Answers = append(st.Answers, raw)
		t, ok := parseDate(raw)
		if !ok {
			invalid++
			log.Printf("analytics: skip unparseable date answer %q for question %s", raw, q.ID)
			continue
		}
		stamps = append(stamps, t)
	}
	// stable: equal instants keep response order
	sort.SliceStable(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	if len(stamps) > 0 {
		first, last := stamps[0], stamps[len(stamps)-1]
		st.Earliest = &first
		st.Latest = &last
	}
	return st, invalid
}

// scaleMatrix builds [respondent][scale question] rows from responses that
// answered every scale question with a number.
func scaleMatrix(questions []*models.Question, responses []*models.Response) [][]float64 {
	if len(questions) < 2 {
		return nil
	}
	matrix := make([][]float64, 0, len(responses))
	for _, r := range responses {
		row := make([]float64, 0, len(questions))
		for _, q := range questions {
			v, ok := r.AnswerFor(q.ID)
			if !ok {
				break
			}
			n, ok := parseScale(v.String())
			if !ok {
				break
			}
			row = append(row, float64(n))
		}
		if len(row) == len(questions) {
			matrix = append(matrix, row)
		}
	}
	return matrix
}
