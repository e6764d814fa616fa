package biz

import (
	"context"
	"sync"
	"time"

	"serving-control-plane/internal/constants"

	"github.com/google/uuid"
)

// MockLedgerRepo implements LedgerRepo with an in-memory ledger for testing
type MockLedgerRepo struct {
	mu           sync.Mutex
	balances     map[string]int64
	transactions map[string][]*CreditTransaction
	flagged      map[string]bool

	getBalanceFunc func(ctx context.Context, orgID string) (*CreditBalance, error)
	applyFunc      func(ctx context.Context, orgID string, amountCents int64, txType, referenceID, description string) (int64, error)

	// Call tracking
	ApplyCalls []int64
	FlagCalls  []string
}

func NewMockLedgerRepo() *MockLedgerRepo {
	return &MockLedgerRepo{
		balances:     make(map[string]int64),
		transactions: make(map[string][]*CreditTransaction),
		flagged:      make(map[string]bool),
	}
}

func (m *MockLedgerRepo) SetBalance(orgID string, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[orgID] = cents
}

func (m *MockLedgerRepo) GetBalance(ctx context.Context, orgID string) (*CreditBalance, error) {
	if m.getBalanceFunc != nil {
		return m.getBalanceFunc(ctx, orgID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balances[orgID]
	if !ok {
		return nil, nil
	}
	return &CreditBalance{OrgID: orgID, BalanceCents: balance, ReconcileFlagged: m.flagged[orgID]}, nil
}

func (m *MockLedgerRepo) Apply(ctx context.Context, orgID string, amountCents int64, txType, referenceID, description string) (int64, error) {
	if m.applyFunc != nil {
		return m.applyFunc(ctx, orgID, amountCents, txType, referenceID, description)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplyCalls = append(m.ApplyCalls, amountCents)
	newBalance := m.balances[orgID] + amountCents
	m.balances[orgID] = newBalance
	m.transactions[orgID] = append(m.transactions[orgID], &CreditTransaction{
		ID:                uuid.New().String(),
		OrgID:             orgID,
		AmountCents:       amountCents,
		Type:              txType,
		ReferenceID:       referenceID,
		Description:       description,
		BalanceAfterCents: newBalance,
		CreatedAt:         time.Now(),
	})
	return newBalance, nil
}

func (m *MockLedgerRepo) ListTransactions(ctx context.Context, orgID string, page, pageSize int) ([]*CreditTransaction, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txs := m.transactions[orgID]
	return txs, int64(len(txs)), nil
}

func (m *MockLedgerRepo) WalkTransactions(ctx context.Context, orgID string, fn func(*CreditTransaction) error) error {
	m.mu.Lock()
	txs := make([]*CreditTransaction, len(m.transactions[orgID]))
	copy(txs, m.transactions[orgID])
	m.mu.Unlock()
	for _, tx := range txs {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockLedgerRepo) FlagReconcile(ctx context.Context, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlagCalls = append(m.FlagCalls, orgID)
	m.flagged[orgID] = true
	return nil
}

func (m *MockLedgerRepo) ListOrgIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	orgIDs := make([]string, 0, len(m.balances))
	for orgID := range m.balances {
		orgIDs = append(orgIDs, orgID)
	}
	return orgIDs, nil
}

// MockNodeRepo implements NodeRepo with an in-memory registry for testing
type MockNodeRepo struct {
	mu    sync.Mutex
	nodes []*DeploymentNode

	// Call tracking
	UpdateHealthCalls []string
	DeleteCalls       []string
}

func NewMockNodeRepo(nodes ...*DeploymentNode) *MockNodeRepo {
	return &MockNodeRepo{nodes: nodes}
}

func (m *MockNodeRepo) ListNodes(ctx context.Context, deploymentID string) ([]*DeploymentNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DeploymentNode
	for _, n := range m.nodes {
		if n.DeploymentID == deploymentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockNodeRepo) ListHealthy(ctx context.Context, deploymentID string) ([]*DeploymentNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*DeploymentNode
	for _, n := range m.nodes {
		if n.DeploymentID == deploymentID && n.HealthStatus == constants.NodeHealthHealthy {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockNodeRepo) UpdateNodeHealth(ctx context.Context, nodeID, healthStatus string, latencyMs *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateHealthCalls = append(m.UpdateHealthCalls, nodeID+":"+healthStatus)
	for _, n := range m.nodes {
		if n.ID == nodeID {
			n.HealthStatus = healthStatus
			if latencyMs != nil {
				n.LatencyMs = latencyMs
			}
		}
	}
	return nil
}

func (m *MockNodeRepo) ReplaceNodes(ctx context.Context, deploymentID string, nodes []*DeploymentNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*DeploymentNode
	for _, n := range m.nodes {
		if n.DeploymentID != deploymentID {
			kept = append(kept, n)
		}
	}
	m.nodes = append(kept, nodes...)
	return nil
}

func (m *MockNodeRepo) DeleteNodes(ctx context.Context, deploymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, deploymentID)
	var kept []*DeploymentNode
	for _, n := range m.nodes {
		if n.DeploymentID != deploymentID {
			kept = append(kept, n)
		}
	}
	m.nodes = kept
	return nil
}

// MockDeploymentRepo implements DeploymentRepo with CAS semantics for testing
type MockDeploymentRepo struct {
	mu          sync.Mutex
	deployments map[string]*Deployment

	// Call tracking
	StatusCalls []string
}

func NewMockDeploymentRepo(deployments ...*Deployment) *MockDeploymentRepo {
	m := &MockDeploymentRepo{deployments: make(map[string]*Deployment)}
	for _, d := range deployments {
		m.deployments[d.ID] = d
	}
	return m
}

func (m *MockDeploymentRepo) CreateDeployment(ctx context.Context, d *Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deployments[d.ID] = &cp
	return nil
}

func (m *MockDeploymentRepo) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MockDeploymentRepo) GetDeploymentBySlug(ctx context.Context, slug string) (*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deployments {
		if d.Slug == slug {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockDeploymentRepo) UpdateStatusFrom(ctx context.Context, id string, from []string, to, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls = append(m.StatusCalls, id+":"+to)
	d, ok := m.deployments[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		matched := false
		for _, f := range from {
			if d.Status == f {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	d.Status = to
	d.LastError = lastError
	return true, nil
}

func (m *MockDeploymentRepo) SetExternalJobIDs(ctx context.Context, id string, jobIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deployments[id]; ok {
		d.ExternalJobIDs = jobIDs
	}
	return nil
}

func (m *MockDeploymentRepo) ListByStatus(ctx context.Context, statuses []string) ([]*Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Deployment
	for _, d := range m.deployments {
		for _, s := range statuses {
			if d.Status == s {
				cp := *d
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

// Status returns the current status of a deployment
func (m *MockDeploymentRepo) Status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.deployments[id]; ok {
		return d.Status
	}
	return ""
}

// MockTrainingRepo implements TrainingRepo with CAS semantics for testing
type MockTrainingRepo struct {
	mu   sync.Mutex
	jobs map[string]*TrainingJob

	applyCallbackFunc func(ctx context.Context, id string, cb *TrainingCallback) (*TrainingJob, error)

	// Call tracking
	StatusCalls     []string
	ExternalIDCalls []string
}

func NewMockTrainingRepo(jobs ...*TrainingJob) *MockTrainingRepo {
	m := &MockTrainingRepo{jobs: make(map[string]*TrainingJob)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *MockTrainingRepo) CreateTrainingJob(ctx context.Context, job *TrainingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MockTrainingRepo) GetTrainingJob(ctx context.Context, id string) (*TrainingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *MockTrainingRepo) UpdateTrainingStatusFrom(ctx context.Context, id string, from []string, to, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls = append(m.StatusCalls, id+":"+to)
	j, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		matched := false
		for _, f := range from {
			if j.Status == f {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	j.Status = to
	j.LastError = lastError
	return true, nil
}

func (m *MockTrainingRepo) SetExternalTrainingJobID(ctx context.Context, id, externalJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExternalIDCalls = append(m.ExternalIDCalls, externalJobID)
	if j, ok := m.jobs[id]; ok {
		j.ExternalJobID = externalJobID
	}
	return nil
}

func (m *MockTrainingRepo) ApplyCallback(ctx context.Context, id string, cb *TrainingCallback) (*TrainingJob, error) {
	if m.applyCallbackFunc != nil {
		return m.applyCallbackFunc(ctx, id, cb)
	}
	return m.GetTrainingJob(ctx, id)
}

// Status returns the current status of a training job
func (m *MockTrainingRepo) Status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

// MockUsageRepo implements UsageRepo with in-memory hour buckets for testing
type MockUsageRepo struct {
	mu      sync.Mutex
	buckets map[string]*UsageBucket

	// Call tracking
	AddCalls int
}

func NewMockUsageRepo() *MockUsageRepo {
	return &MockUsageRepo{buckets: make(map[string]*UsageBucket)}
}

func (m *MockUsageRepo) AddUsage(ctx context.Context, events ...*UsageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		m.AddCalls++
		key := e.OrgID + "/" + e.DeploymentID + "/" + e.PeriodStart.Format(time.RFC3339)
		b, ok := m.buckets[key]
		if !ok {
			b = &UsageBucket{
				OrgID:        e.OrgID,
				DeploymentID: e.DeploymentID,
				PeriodStart:  e.PeriodStart,
				PeriodEnd:    e.PeriodEnd,
			}
			m.buckets[key] = b
		}
		b.RequestCount++
		b.InputTokens += e.InputTokens
		b.OutputTokens += e.OutputTokens
		b.TotalLatencyMs += e.LatencyMs
		if e.IsError {
			b.ErrorCount++
		}
	}
	return nil
}

func (m *MockUsageRepo) ListUsage(ctx context.Context, orgID string, from, to time.Time) ([]*UsageBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*UsageBucket
	for _, b := range m.buckets {
		if b.OrgID == orgID && !b.PeriodStart.Before(from) && b.PeriodStart.Before(to) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Buckets returns a snapshot of all stored buckets
func (m *MockUsageRepo) Buckets() []*UsageBucket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*UsageBucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// MockProvisioner implements FleetProvisioner for testing
type MockProvisioner struct {
	mu sync.Mutex

	createDeploymentFunc func(ctx context.Context, spec *ProvisionSpec) (*ProvisionResult, error)
	stopDeploymentFunc   func(ctx context.Context, externalJobID string) error
	createTrainingFunc   func(ctx context.Context, spec *TrainingSpec) (string, error)
	stopTrainingFunc     func(ctx context.Context, externalJobID string) error
	getNodeHealthFunc    func(ctx context.Context, nodeURL string) (*NodeHealth, error)

	// Call tracking
	CreateDeploymentCalls []*ProvisionSpec
	StopDeploymentCalls   []string
	CreateTrainingCalls   []*TrainingSpec
	StopTrainingCalls     []string
	HealthCalls           []string
}

func (m *MockProvisioner) CreateDeployment(ctx context.Context, spec *ProvisionSpec) (*ProvisionResult, error) {
	m.mu.Lock()
	m.CreateDeploymentCalls = append(m.CreateDeploymentCalls, spec)
	m.mu.Unlock()
	if m.createDeploymentFunc != nil {
		return m.createDeploymentFunc(ctx, spec)
	}
	return &ProvisionResult{
		JobID: "job-123",
		Nodes: []ProvisionedNode{{ID: "n1", URL: "http://node-1:8000"}},
	}, nil
}

func (m *MockProvisioner) StopDeployment(ctx context.Context, externalJobID string) error {
	m.mu.Lock()
	m.StopDeploymentCalls = append(m.StopDeploymentCalls, externalJobID)
	m.mu.Unlock()
	if m.stopDeploymentFunc != nil {
		return m.stopDeploymentFunc(ctx, externalJobID)
	}
	return nil
}

func (m *MockProvisioner) CreateTrainingJob(ctx context.Context, spec *TrainingSpec) (string, error) {
	m.mu.Lock()
	m.CreateTrainingCalls = append(m.CreateTrainingCalls, spec)
	m.mu.Unlock()
	if m.createTrainingFunc != nil {
		return m.createTrainingFunc(ctx, spec)
	}
	return "train-123", nil
}

func (m *MockProvisioner) StopTrainingJob(ctx context.Context, externalJobID string) error {
	m.mu.Lock()
	m.StopTrainingCalls = append(m.StopTrainingCalls, externalJobID)
	m.mu.Unlock()
	if m.stopTrainingFunc != nil {
		return m.stopTrainingFunc(ctx, externalJobID)
	}
	return nil
}

// 锁内快照：后台 goroutine 还在追加时由 Eventually 轮询使用
func (m *MockProvisioner) CreateDeploymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateDeploymentCalls)
}

func (m *MockProvisioner) CreateTrainingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreateTrainingCalls)
}

func (m *MockProvisioner) StoppedDeployments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.StopDeploymentCalls...)
}

func (m *MockProvisioner) StoppedTrainingJobs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.StopTrainingCalls...)
}

func (m *MockProvisioner) GetNodeHealth(ctx context.Context, nodeURL string) (*NodeHealth, error) {
	m.mu.Lock()
	m.HealthCalls = append(m.HealthCalls, nodeURL)
	m.mu.Unlock()
	if m.getNodeHealthFunc != nil {
		return m.getNodeHealthFunc(ctx, nodeURL)
	}
	return &NodeHealth{OK: true, LatencyMs: 50}, nil
}

// MockPublisher implements UsagePublisher for testing
type MockPublisher struct {
	mu      sync.Mutex
	enabled bool

	publishFunc func(ctx context.Context, event *UsageEvent) error

	// Call tracking
	PublishCalls []*UsageEvent
}

func (m *MockPublisher) Enabled() bool {
	return m.enabled
}

func (m *MockPublisher) PublishUsage(ctx context.Context, event *UsageEvent) error {
	m.mu.Lock()
	m.PublishCalls = append(m.PublishCalls, event)
	m.mu.Unlock()
	if m.publishFunc != nil {
		return m.publishFunc(ctx, event)
	}
	return nil
}
