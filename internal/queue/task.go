package queue

import (
	"fmt"
	"time"
)

const (
	// TaskSweep reconciles the bucket and the images table.
	TaskSweep = "sweep"
	// TaskOrphan removes one object that an upload failed to clean up.
	TaskOrphan = "orphan"
)

type Task struct {
	Type        string
	StoragePath string
	EnqueuedAt  time.Time
}

func (t Task) values() map[string]any {
	values := map[string]any{
		"type":       t.Type,
		"enqueuedAt": t.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.StoragePath != "" {
		values["storagePath"] = t.StoragePath
	}
	return values
}

// DecodeTask reads a task from stream entry fields.
func DecodeTask(values map[string]interface{}) (Task, error) {
	var task Task

	typ, _ := values["type"].(string)
	if typ == "" {
		return Task{}, fmt.Errorf("decode task: missing type")
	}
	task.Type = typ
	task.StoragePath, _ = values["storagePath"].(string)

	if raw, ok := values["enqueuedAt"].(string); ok && raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Task{}, fmt.Errorf("decode task: enqueuedAt: %w", err)
		}
		task.EnqueuedAt = at
	}

	if task.Type == TaskOrphan && task.StoragePath == "" {
		return Task{}, fmt.Errorf("decode task: orphan without storagePath")
	}
	return task, nil
}
