package memory

import (
	"context"
	"sort"
	"sync"

	maintops "equipment-maintops/internal/maintops/domain"
)

// catalog holds reference data shared by every partition. Writes are
// idempotent, so they are applied immediately rather than per transaction.
type catalog struct {
	mu           sync.RWMutex
	instances    map[string]maintops.EquipmentInstance
	problemTypes map[int64]maintops.EquipmentProblemType
	statuses     map[int64]maintops.DiagnosisStatus
	seq          int64
}

func newCatalog() *catalog {
	return &catalog{
		instances:    make(map[string]maintops.EquipmentInstance),
		problemTypes: make(map[int64]maintops.EquipmentProblemType),
		statuses:     make(map[int64]maintops.DiagnosisStatus),
	}
}

func (c *catalog) GetEquipmentInstance(ctx context.Context, id string) (*maintops.EquipmentInstance, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	instance, ok := c.instances[id]
	if !ok {
		return nil, maintops.NewNotFoundError("equipment_instance", id)
	}
	return &instance, nil
}

func (c *catalog) ListEquipmentInstances(ctx context.Context) ([]maintops.EquipmentInstance, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]maintops.EquipmentInstance, 0, len(c.instances))
	for _, instance := range c.instances {
		result = append(result, instance)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (c *catalog) SaveEquipmentInstance(ctx context.Context, instance *maintops.EquipmentInstance) error {
	_ = ctx
	if instance == nil {
		return maintops.ErrNilRecord
	}
	if instance.ID == "" {
		return maintops.NewValidationError("equipment_instance", "id", "required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[instance.ID] = *instance
	return nil
}

func (c *catalog) GetProblemType(ctx context.Context, id int64) (*maintops.EquipmentProblemType, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	problemType, ok := c.problemTypes[id]
	if !ok {
		return nil, maintops.NewNotFoundError("equipment_problem_type", id)
	}
	return &problemType, nil
}

func (c *catalog) EnsureProblemType(ctx context.Context, problemType *maintops.EquipmentProblemType) error {
	_ = ctx
	if problemType == nil {
		return maintops.ErrNilRecord
	}
	problemType.Normalize()
	if problemType.Name == "" {
		return maintops.NewValidationError("equipment_problem_type", "name", "required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.problemTypes {
		if existing.Name == problemType.Name {
			*problemType = existing
			return nil
		}
	}
	c.seq++
	problemType.ID = c.seq
	c.problemTypes[problemType.ID] = *problemType
	return nil
}

func (c *catalog) ListProblemTypes(ctx context.Context) ([]maintops.EquipmentProblemType, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]maintops.EquipmentProblemType, 0, len(c.problemTypes))
	for _, problemType := range c.problemTypes {
		result = append(result, problemType)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (c *catalog) GetStatus(ctx context.Context, id int64) (*maintops.DiagnosisStatus, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.statuses[id]
	if !ok {
		return nil, maintops.NewNotFoundError("diagnosis_status", id)
	}
	return &status, nil
}

func (c *catalog) GetStatusByIndex(ctx context.Context, index int) (*maintops.DiagnosisStatus, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, status := range c.statuses {
		if status.Index == index {
			s := status
			return &s, nil
		}
	}
	return nil, maintops.NewNotFoundError("diagnosis_status", index)
}

func (c *catalog) EnsureStatus(ctx context.Context, status *maintops.DiagnosisStatus) error {
	_ = ctx
	if err := status.Validate(); err != nil {
		return err
	}
	status.Name = maintops.CleanLowerName(status.Name)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.statuses {
		if existing.Index == status.Index {
			*status = existing
			return nil
		}
	}
	for _, existing := range c.statuses {
		if existing.Name == status.Name {
			return maintops.NewValidationError("diagnosis_status", "name", "duplicate name")
		}
	}
	c.seq++
	status.ID = c.seq
	c.statuses[status.ID] = *status
	return nil
}

func (c *catalog) ListStatuses(ctx context.Context) ([]maintops.DiagnosisStatus, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]maintops.DiagnosisStatus, 0, len(c.statuses))
	for _, status := range c.statuses {
		result = append(result, status)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}
