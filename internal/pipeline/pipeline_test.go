package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/taskpilot/internal/confirm"
	"github.com/alekspetrov/taskpilot/internal/intent"
	"github.com/alekspetrov/taskpilot/internal/logging"
	"github.com/alekspetrov/taskpilot/internal/recurring"
	"github.com/alekspetrov/taskpilot/internal/roles"
	"github.com/alekspetrov/taskpilot/internal/routing"
	"github.com/alekspetrov/taskpilot/internal/sink"
)

const testChat int64 = -1001

type sent struct {
	chatID  int64
	text    string
	replyTo int64
}

type fakeMessenger struct {
	mu     sync.Mutex
	nextID int64
	sent   []sent
	err    error
}

func (m *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.nextID++
	m.sent = append(m.sent, sent{chatID: chatID, text: text, replyTo: replyTo})
	return 100 + m.nextID, nil
}

func (m *fakeMessenger) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.text
	}
	return out
}

func (m *fakeMessenger) last() sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sent{}
	}
	return m.sent[len(m.sent)-1]
}

type statusCall struct {
	name, status, actor string
}

type fakeSink struct {
	mu          sync.Mutex
	created     []sink.ProjectRequest
	createErr   error
	updates     []statusCall
	updateFound bool
	updateErr   error
	obstacles   []sink.Obstacle
	obstacleErr error
	summary     *sink.Summary
	tasks       []sink.TaskRecord
	projects    []sink.ProjectRecord
	readErr     error
}

func (s *fakeSink) CreateProjectWithTasks(_ context.Context, req sink.ProjectRequest) (*sink.ProjectResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, req)
	return &sink.ProjectResult{ProjectID: "p1"}, nil
}

func (s *fakeSink) UpdateStatus(_ context.Context, name, status, actor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, statusCall{name, status, actor})
	return s.updateFound, s.updateErr
}

func (s *fakeSink) CreateObstacle(_ context.Context, o sink.Obstacle) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.obstacleErr != nil {
		return "", s.obstacleErr
	}
	s.obstacles = append(s.obstacles, o)
	return "o1", nil
}

func (s *fakeSink) ProgressSummary(context.Context) (*sink.Summary, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.summary == nil {
		return &sink.Summary{}, nil
	}
	return s.summary, nil
}

func (s *fakeSink) ListPendingTasks(context.Context) ([]sink.TaskRecord, error) {
	return s.tasks, s.readErr
}

func (s *fakeSink) ListProjects(context.Context) ([]sink.ProjectRecord, error) {
	return s.projects, s.readErr
}

type fakeClassifier struct {
	result *intent.Result
	err    error
	panics bool
	calls  int
	health error
}

func (c *fakeClassifier) Classify(context.Context, string, string) (*intent.Result, error) {
	c.calls++
	if c.panics {
		panic("boom")
	}
	return c.result, c.err
}

type healthyClassifier struct {
	fakeClassifier
}

func (c *healthyClassifier) Health(context.Context) error {
	return c.health
}

// fakeClock runs AfterFunc callbacks when Advance passes their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	done     bool
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) confirm.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.deadline.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// flakyStorage wraps a recurring.Storage and fails every Save once broken.
type flakyStorage struct {
	recurring.Storage
	broken bool
}

func (s *flakyStorage) Save(ctx context.Context, defs []recurring.Definition) error {
	if s.broken {
		return errors.New("disk full")
	}
	return s.Storage.Save(ctx, defs)
}

type harness struct {
	p          *Pipeline
	messenger  *fakeMessenger
	sink       *fakeSink
	classifier *fakeClassifier
	recurring  *recurring.Store
	clock      *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStorage(t, recurring.NewFileStorage(filepath.Join(t.TempDir(), "recurring.json")))
}

func newHarnessWithStorage(t *testing.T, storage recurring.Storage) *harness {
	t.Helper()
	logging.Suppress()

	store, err := recurring.Open(context.Background(), storage, recurring.Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("recurring.Open: %v", err)
	}
	router, err := routing.NewRouter(routing.DefaultConfig())
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	h := &harness{
		messenger:  &fakeMessenger{},
		sink:       &fakeSink{},
		classifier: &fakeClassifier{},
		recurring:  store,
		clock:      &fakeClock{now: time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
	}
	h.p, err = New(Options{
		Classifier: h.classifier,
		Sink:       h.sink,
		Recurring:  store,
		Router:     router,
		Directory: roles.NewDirectory(&roles.Config{
			Handles: map[roles.Role]string{roles.Finance: "joe_finance"},
		}),
		Messenger:     h.messenger,
		ConfirmWindow: 2 * time.Minute,
		ConfirmClock:  h.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(h.p.Close)
	return h
}

func (h *harness) say(text string) {
	h.sayAs(text, 0)
}

func (h *harness) sayAs(text string, replyTo int64) {
	h.p.Handle(context.Background(), Message{
		ChatID:     testChat,
		MessageID:  1,
		Text:       text,
		AuthorID:   42,
		AuthorName: "alice_ops",
		ReplyTo:    replyTo,
	})
}

func newTaskResult() *intent.Result {
	return &intent.Result{
		Intent:         intent.TaskNew,
		AssistantReply: "好的，已拆解任务",
		ProjectTitle:   "租客入住准备",
		Tasks: []intent.TaskProposal{
			{Title: "支付押金", DueHint: "3天内"},
			{Title: "设计欢迎海报"},
		},
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New with no options should fail")
	}
}

func TestIsConfirmation(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"确定", true},
		{" 确认 ", true},
		{"OK", true},
		{"ok!", true},
		{"好的", true},
		{"Yes", true},
		{"确定吗，这个任务谁负责", false},
		{"okay let's go", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsConfirmation(tt.text); got != tt.want {
			t.Errorf("IsConfirmation(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestHandle_NewTasksPreviewAndConfirm(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = newTaskResult()

	h.say("给租客准备入住：支付押金，设计欢迎海报")

	texts := h.messenger.texts()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want reply and preview: %q", len(texts), texts)
	}
	if texts[0] != "好的，已拆解任务" {
		t.Errorf("first message = %q, want classifier reply", texts[0])
	}
	wantPreview := "📋 租客入住准备 任务预览：\n" +
		"1. 支付押金 → @joe_finance （3天内）\n" +
		"2. 设计欢迎海报 → 设计师\n" +
		"\n⚠️ 请回复「确定」来保存任务，或等待2分钟自动取消"
	if texts[1] != wantPreview {
		t.Errorf("preview =\n%s\nwant\n%s", texts[1], wantPreview)
	}
	if h.p.Confirmations().Len() != 1 {
		t.Fatalf("pending batches = %d, want 1", h.p.Confirmations().Len())
	}
	if len(h.sink.created) != 0 {
		t.Fatal("nothing should be saved before confirmation")
	}

	h.say("确定")

	if len(h.sink.created) != 1 {
		t.Fatalf("created = %d, want 1", len(h.sink.created))
	}
	req := h.sink.created[0]
	if req.Title != "租客入住准备" || req.Author != "alice_ops" {
		t.Errorf("request = %+v", req)
	}
	if req.Partition.Name != routing.Tenant {
		t.Errorf("partition = %q, want %q", req.Partition.Name, routing.Tenant)
	}
	if len(req.Tasks) != 2 || req.Tasks[0].Assignee != roles.Finance || req.Tasks[1].Assignee != roles.Designer {
		t.Errorf("tasks = %+v", req.Tasks)
	}
	want := "✅ 任务已确认并保存到Notion！\n项目：租客入住准备\n任务数：2"
	if got := h.messenger.last().text; got != want {
		t.Errorf("commit reply = %q, want %q", got, want)
	}
	if h.p.Confirmations().Len() != 0 {
		t.Error("batch should be removed after commit")
	}
}

func TestHandle_ExpiredBatchIsNotSaved(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = newTaskResult()

	h.say("给租客准备入住：支付押金，设计欢迎海报")
	previewID := int64(100 + 2)

	h.clock.Advance(2 * time.Minute)

	last := h.messenger.last()
	if last.text != "⏰ 任务预览已过期，未保存到Notion" {
		t.Errorf("expiry notice = %q", last.text)
	}
	if last.replyTo != previewID {
		t.Errorf("expiry notice replies to %d, want preview %d", last.replyTo, previewID)
	}

	h.say("确定")
	if len(h.sink.created) != 0 {
		t.Error("expired batch must not be saved")
	}
	if got := h.messenger.last().text; got != msgNothingToConfirm {
		t.Errorf("late confirmation reply = %q", got)
	}
}

func TestHandle_ConfirmUsesReplyTarget(t *testing.T) {
	h := newHarness(t)

	h.classifier.result = newTaskResult()
	h.say("给租客准备入住：支付押金，设计欢迎海报")
	firstPreview := int64(100 + 2)

	h.clock.Advance(10 * time.Second)
	second := newTaskResult()
	second.ProjectTitle = "门店海报"
	h.classifier.result = second
	h.say("给门店设计新海报")

	h.sayAs("确定", firstPreview)

	if len(h.sink.created) != 1 || h.sink.created[0].Title != "租客入住准备" {
		t.Fatalf("created = %+v, want the replied-to batch", h.sink.created)
	}

	h.say("ok")
	if len(h.sink.created) != 2 || h.sink.created[1].Title != "门店海报" {
		t.Fatalf("created = %+v, want the remaining batch", h.sink.created)
	}
	if h.sink.created[1].Partition.Name != routing.Salon {
		t.Errorf("partition = %q, want salon", h.sink.created[1].Partition.Name)
	}
}

func TestHandle_CommitFailure(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = newTaskResult()
	h.sink.createErr = errors.New("notion down")

	h.say("给租客准备入住：支付押金，设计欢迎海报")
	h.say("确定")

	if got := h.messenger.last().text; got != msgCommitFailed {
		t.Errorf("reply = %q, want failure notice", got)
	}
	if h.p.Confirmations().Len() != 0 {
		t.Error("failed batch should not be re-queued")
	}
}

func TestHandle_TaskDone(t *testing.T) {
	t.Run("recurring match", func(t *testing.T) {
		h := newHarness(t)
		if _, err := h.recurring.Add(context.Background(), recurring.Definition{
			Title: "提交周报", Frequency: recurring.Weekly, DayOfWeek: 5,
		}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		h.classifier.result = &intent.Result{
			Intent:       intent.TaskDone,
			StatusUpdate: &intent.StatusUpdate{TaskHint: "周报"},
		}

		h.say("周报 完成")

		want := "✅ 定时任务\"提交周报\"本周已完成！\n下次提醒时间：下周同一时间"
		if got := h.messenger.last().text; got != want {
			t.Errorf("reply = %q, want %q", got, want)
		}
		if len(h.sink.updates) != 0 {
			t.Error("recurring completion should not touch the sink")
		}
		if !h.recurring.List()[0].CompletedThisWeek {
			t.Error("definition should be completed for this week")
		}
	})

	t.Run("task match", func(t *testing.T) {
		h := newHarness(t)
		h.sink.updateFound = true
		h.classifier.result = &intent.Result{
			Intent:         intent.TaskDone,
			AssistantReply: "好的，已更新",
			StatusUpdate:   &intent.StatusUpdate{TaskHint: "WiFi"},
		}

		h.say("WiFi 完成")

		if len(h.sink.updates) != 1 {
			t.Fatalf("updates = %d, want 1", len(h.sink.updates))
		}
		if u := h.sink.updates[0]; u.name != "WiFi" || u.status != sink.StatusDone || u.actor != "alice_ops" {
			t.Errorf("update = %+v", u)
		}
		if got := h.messenger.last().text; got != "好的，已更新" {
			t.Errorf("last reply = %q", got)
		}
	})

	t.Run("no match", func(t *testing.T) {
		h := newHarness(t)
		h.classifier.result = &intent.Result{
			Intent:       intent.TaskDone,
			StatusUpdate: &intent.StatusUpdate{TaskHint: "不存在"},
		}

		h.say("不存在 完成")

		if got := h.messenger.last().text; got != msgNotFound {
			t.Errorf("reply = %q, want not-found notice", got)
		}
	})

	t.Run("recurring storage error", func(t *testing.T) {
		storage := &flakyStorage{Storage: recurring.NewFileStorage(filepath.Join(t.TempDir(), "recurring.json"))}
		h := newHarnessWithStorage(t, storage)
		if _, err := h.recurring.Add(context.Background(), recurring.Definition{
			Title: "提交周报", Frequency: recurring.Weekly, DayOfWeek: 5,
		}); err != nil {
			t.Fatalf("Add: %v", err)
		}
		storage.broken = true
		h.sink.updateFound = true
		h.classifier.result = &intent.Result{
			Intent:       intent.TaskDone,
			StatusUpdate: &intent.StatusUpdate{TaskHint: "周报"},
		}

		h.say("周报 完成")

		if got := h.messenger.last().text; got != msgUpdateFailed {
			t.Errorf("reply = %q, want failure notice", got)
		}
		if len(h.sink.updates) != 0 {
			t.Error("storage failure should not fall through to the sink")
		}
		if h.recurring.List()[0].CompletedThisWeek {
			t.Error("definition should stay incomplete after a failed save")
		}
	})

	t.Run("sink error", func(t *testing.T) {
		h := newHarness(t)
		h.sink.updateErr = errors.New("timeout")
		h.classifier.result = &intent.Result{
			Intent:       intent.TaskDone,
			StatusUpdate: &intent.StatusUpdate{TaskHint: "WiFi"},
		}

		h.say("WiFi 完成")

		if got := h.messenger.last().text; got != msgUpdateFailed {
			t.Errorf("reply = %q, want failure notice", got)
		}
	})
}

func TestHandle_TaskBlocked(t *testing.T) {
	t.Run("records obstacle and flags task", func(t *testing.T) {
		h := newHarness(t)
		h.classifier.result = &intent.Result{
			Intent:   intent.TaskBlocked,
			Obstacle: &intent.Obstacle{Desc: "供应商发票", Need: "需要付款审批"},
		}

		h.say("供应商发票卡住了，需要付款审批")

		if len(h.sink.obstacles) != 1 {
			t.Fatalf("obstacles = %d, want 1", len(h.sink.obstacles))
		}
		o := h.sink.obstacles[0]
		if o.TaskName != "供应商发票" || o.HelpRole != roles.Finance || o.Actor != "alice_ops" {
			t.Errorf("obstacle = %+v", o)
		}
		if len(h.sink.updates) != 1 || h.sink.updates[0].status != sink.StatusNeedsHelp {
			t.Errorf("updates = %+v, want one needs-help update", h.sink.updates)
		}
		if got := h.messenger.last().text; got != "⚠️ 阻碍已记录，需要 @joe_finance 协助处理" {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("without description", func(t *testing.T) {
		h := newHarness(t)
		h.classifier.result = &intent.Result{Intent: intent.TaskBlocked}

		h.say("海报素材遇到问题了")

		o := h.sink.obstacles[0]
		if o.TaskName != "海报素材遇到问题了" || o.Description != "海报素材遇到问题了" {
			t.Errorf("obstacle = %+v", o)
		}
		if len(h.sink.updates) != 0 {
			t.Error("no status update without a description")
		}
		if got := h.messenger.last().text; got != "⚠️ 阻碍已记录，需要 设计师 协助处理" {
			t.Errorf("reply = %q", got)
		}
	})

	t.Run("obstacle database not configured", func(t *testing.T) {
		h := newHarness(t)
		h.sink.obstacleErr = sink.ErrNotConfigured
		h.classifier.result = &intent.Result{
			Intent:   intent.TaskBlocked,
			Obstacle: &intent.Obstacle{Desc: "直播设备"},
		}

		h.say("直播设备坏了")

		if got := h.messenger.last().text; !strings.HasPrefix(got, "⚠️ 阻碍已记录") {
			t.Errorf("reply = %q, want acknowledgement", got)
		}
	})

	t.Run("obstacle write failure", func(t *testing.T) {
		h := newHarness(t)
		h.sink.obstacleErr = errors.New("http 500")
		h.classifier.result = &intent.Result{Intent: intent.TaskBlocked}

		h.say("卡住了")

		if got := h.messenger.last().text; got != msgObstacleFailed {
			t.Errorf("reply = %q, want failure notice", got)
		}
	})
}

func TestHandle_RecurringTask(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = &intent.Result{
		Intent: intent.Recurring,
		Recurring: &intent.RecurringRequest{
			Title:     "提交周报",
			Frequency: "weekly",
			DayOfWeek: 5,
			Time:      "17:30",
		},
	}

	h.say("每周五下午5点半提交周报")

	defs := h.recurring.List()
	if len(defs) != 1 {
		t.Fatalf("definitions = %d, want 1", len(defs))
	}
	def := defs[0]
	if def.DayOfWeek != 5 || def.TimeOfDay != "17:30" || def.Assignee != "alice_ops" || def.GroupID != testChat {
		t.Errorf("definition = %+v", def)
	}
	want := "⏰ 定时任务已创建！\n\n📋 任务：提交周报\n🔄 频率：每周五 17:30\n👤 负责人：@alice_ops\n\n" +
		"提醒：任务会定时提醒，直到回复\"提交周报 完成\"为止"
	if got := h.messenger.last().text; got != want {
		t.Errorf("reply =\n%s\nwant\n%s", got, want)
	}
}

func TestHandle_RecurringTaskWithRuleClassifier(t *testing.T) {
	h := newHarness(t)
	h.p.classifier = intent.NewRuleClassifier()

	h.say("每周五提交周报")

	defs := h.recurring.List()
	if len(defs) != 1 {
		t.Fatalf("definitions = %d, want 1", len(defs))
	}
	if def := defs[0]; def.Title != "提交周报" || def.Frequency != recurring.Weekly || def.DayOfWeek != 5 {
		t.Errorf("definition = %+v", def)
	}
	if got := h.messenger.last().text; !strings.Contains(got, "每周五 09:00") {
		t.Errorf("reply = %q, want default time of day", got)
	}
}

func TestHandle_RecurringTaskInvalid(t *testing.T) {
	h := newHarness(t)
	h.classifier.result = &intent.Result{
		Intent:    intent.Recurring,
		Recurring: &intent.RecurringRequest{Title: "提交周报"},
	}

	h.say("每周提交周报")

	if len(h.recurring.List()) != 0 {
		t.Error("weekly definition without a day must be rejected")
	}
	if got := h.messenger.last().text; !strings.Contains(got, "每周任务需要指定星期几") {
		t.Errorf("reply = %q", got)
	}
}

func TestHandle_Queries(t *testing.T) {
	h := newHarness(t)
	h.sink.summary = &sink.Summary{ProjectsActive: 2, TasksPending: 3}
	h.sink.projects = []sink.ProjectRecord{{Title: "官网改版"}}

	h.classifier.result = &intent.Result{Intent: intent.TaskQuery}
	h.say("现在进度怎么样")
	if got := h.messenger.last().text; !strings.Contains(got, "3") {
		t.Errorf("summary = %q", got)
	}

	h.classifier.result = &intent.Result{Intent: intent.ListProjects}
	h.say("有哪些项目")
	if got := h.messenger.last().text; !strings.Contains(got, "官网改版") {
		t.Errorf("projects = %q", got)
	}

	h.sink.readErr = errors.New("down")
	h.classifier.result = &intent.Result{Intent: intent.ListTasks}
	h.say("有什么任务")
	if got := h.messenger.last().text; got != msgTasksFailed {
		t.Errorf("reply = %q, want failure notice", got)
	}
}

func TestHandle_ClassifierFallback(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = intent.ErrUnavailable
	fallback := &fakeClassifier{result: &intent.Result{Intent: intent.Chat, AssistantReply: "规则回复"}}
	h.p.fallback = fallback

	h.say("你好")

	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.calls)
	}
	if got := h.messenger.last().text; got != "规则回复" {
		t.Errorf("reply = %q", got)
	}

	fallback.err = errors.New("also down")
	fallback.result = nil
	h.say("你好")
	if got := h.messenger.last().text; got != msgClassifierDown {
		t.Errorf("reply = %q, want degraded reply", got)
	}
}

func TestHandle_RecoversFromPanic(t *testing.T) {
	h := newHarness(t)
	h.classifier.panics = true

	h.say("你好")

	if got := h.messenger.last().text; got != msgGenericError {
		t.Errorf("reply = %q, want generic error", got)
	}
}

func TestHandle_IgnoresEmptyText(t *testing.T) {
	h := newHarness(t)
	h.say("   ")
	if len(h.messenger.texts()) != 0 || h.classifier.calls != 0 {
		t.Error("empty message should be ignored")
	}
}

func TestHandle_Commands(t *testing.T) {
	h := newHarness(t)
	if _, err := h.recurring.Add(context.Background(), recurring.Definition{
		Title: "晨会", Frequency: recurring.Daily, TimeOfDay: "09:30", Assignee: "alice_ops",
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tests := []struct {
		cmd  string
		want string
	}{
		{"/help", "📋 使用说明"},
		{"/start", "业务分区: BB House/Salon/LaPure"},
		{"/status@taskpilot_bot", "📊"},
		{"/recurring", "1. 晨会\n   🔄 每天 09:30\n   👤 @alice_ops\n   ⏳ 待完成"},
		{"/aitest", "✅ AI服务运行正常（规则模式）"},
		{"/nope", "❓ 未知命令"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			h.say(tt.cmd)
			if got := h.messenger.last().text; !strings.Contains(got, tt.want) {
				t.Errorf("%s reply = %q, want it to contain %q", tt.cmd, got, tt.want)
			}
		})
	}
	if h.classifier.calls != 0 {
		t.Error("commands must not be classified")
	}
}

func TestHandle_HealthCommand(t *testing.T) {
	h := newHarness(t)
	checker := &healthyClassifier{}
	h.p.classifier = checker

	h.say("/aitest")
	if got := h.messenger.last().text; got != "✅ AI服务运行正常" {
		t.Errorf("reply = %q", got)
	}

	checker.health = errors.New("not installed")
	h.say("/aitest")
	if got := h.messenger.last().text; !strings.HasPrefix(got, "❌") {
		t.Errorf("reply = %q, want failure", got)
	}
}

func TestFormatRecurringList_Empty(t *testing.T) {
	if got := FormatRecurringList(nil); got != "📅 当前没有定时任务" {
		t.Errorf("FormatRecurringList(nil) = %q", got)
	}
}

func TestNewReminder(t *testing.T) {
	m := &fakeMessenger{}
	remind := NewReminder(m, testChat)

	def := recurring.Definition{Title: "提交周报", Assignee: "alice_ops"}
	if err := remind(context.Background(), def); err != nil {
		t.Fatalf("remind: %v", err)
	}
	want := "⏰ 定时任务提醒！\n\n📋 提交周报\n👤 @alice_ops\n\n请完成任务后回复：\"提交周报 完成\""
	if got := m.last(); got.chatID != testChat || got.text != want {
		t.Errorf("sent = %+v, want %q to default chat", got, want)
	}

	def.GroupID = -2002
	if err := remind(context.Background(), def); err != nil {
		t.Fatalf("remind: %v", err)
	}
	if got := m.last().chatID; got != -2002 {
		t.Errorf("chat = %d, want the definition's group", got)
	}

	if err := NewReminder(m, 0)(context.Background(), recurring.Definition{Title: "x"}); err == nil {
		t.Error("reminder without a chat should fail")
	}

	m.err = errors.New("telegram down")
	if err := remind(context.Background(), def); err == nil {
		t.Error("send failure should be returned")
	}
}
