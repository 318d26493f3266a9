package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/jmigdelacruz/dlcmeals/domain"
)

// Storage persists tasks in an Azure table and hands image references of
// deleted tasks to the cleanup queue. Every mutation is validated at this
// boundary. Change-feed publishing lives in the Cache wrapper so the
// eviction always precedes the announcement.
type Storage struct {
	taskTable    *aztables.Client
	cleanupQueue *azqueue.QueueClient
	logger       *log.Logger
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, cleanupQueue string, logger *log.Logger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, cleanupQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable), cleanupQueue: cq, logger: logger}, nil
}

// CleanupQueue exposes the image cleanup queue for the background worker.
func (s *Storage) CleanupQueue() *azqueue.QueueClient {
	return s.cleanupQueue
}

type taskEntity struct {
	aztables.Entity
	Title         string `json:"Title"`
	Notes         string `json:"Notes,omitempty"`
	Status        string `json:"Status"`
	MealType      string `json:"MealType,omitempty"`
	Calories      int    `json:"Calories"`
	MealDate      string `json:"MealDate,omitempty"`
	Images        string `json:"Images,omitempty"`
	View          string `json:"View,omitempty"`
	Order         int    `json:"Order"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func toEntity(userID, id string, t domain.Task) (taskEntity, error) {
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: userID, RowKey: id},
		Title:         t.Title,
		Notes:         t.Notes,
		Status:        t.Status,
		MealType:      t.MealType,
		Calories:      t.Calories,
		MealDate:      t.MealDate,
		View:          t.View,
		Order:         t.Order,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: "Edm.Int64",
	}
	if len(t.Images) > 0 {
		data, err := json.Marshal(t.Images)
		if err != nil {
			return taskEntity{}, err
		}
		ent.Images = string(data)
	}
	return ent, nil
}

func fromEntity(ent taskEntity) (domain.Task, error) {
	t := domain.Task{
		ID:        ent.RowKey,
		Title:     ent.Title,
		Notes:     ent.Notes,
		Status:    ent.Status,
		MealType:  ent.MealType,
		Calories:  ent.Calories,
		MealDate:  ent.MealDate,
		View:      ent.View,
		Order:     ent.Order,
		CreatedAt: ent.CreatedAt,
	}
	if ent.Images != "" {
		if err := json.Unmarshal([]byte(ent.Images), &t.Images); err != nil {
			return domain.Task{}, fmt.Errorf("task %s: bad images payload: %w", ent.RowKey, err)
		}
	}
	return t, nil
}

// FetchTasks retrieves the user's full task set, newest first.
func (s *Storage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + userID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			t, err := fromEntity(ent)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt > tasks[j].CreatedAt })
	return tasks, nil
}

// GetTask loads a single task, or ErrTaskNotFound.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return fromEntity(ent)
}

// CreateTask validates the draft, assigns its id and creation timestamp and
// inserts it. The assigned id is returned.
func (s *Storage) CreateTask(ctx context.Context, userID string, t domain.Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.CreatedAt = time.Now().UnixMilli()
	ent, err := toEntity(userID, id, t)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return "", err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateTask merges the non-nil fields into an existing task.
func (s *Storage) UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error {
	if err := upd.Validate(); err != nil {
		return err
	}
	merge := map[string]any{
		"PartitionKey": userID,
		"RowKey":       id,
	}
	if upd.Title != nil {
		merge["Title"] = *upd.Title
	}
	if upd.Notes != nil {
		merge["Notes"] = *upd.Notes
	}
	if upd.Status != nil {
		merge["Status"] = *upd.Status
	}
	if upd.MealType != nil {
		merge["MealType"] = *upd.MealType
	}
	if upd.Calories != nil {
		merge["Calories"] = *upd.Calories
	}
	if upd.MealDate != nil {
		merge["MealDate"] = *upd.MealDate
	}
	if upd.View != nil {
		merge["View"] = *upd.View
	}
	if upd.Order != nil {
		merge["Order"] = *upd.Order
	}
	if upd.Images != nil {
		data, err := json.Marshal(*upd.Images)
		if err != nil {
			return err
		}
		merge["Images"] = string(data)
	}
	payload, err := json.Marshal(merge)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isStatus(err, 404) {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return err
	}
	return nil
}

// DeleteTask removes the task and enqueues its images for blob cleanup.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	t, err := s.GetTask(ctx, userID, id)
	if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
		return err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, userID, id, nil); err != nil {
		if isStatus(err, 404) {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		return err
	}
	s.enqueueImageCleanup(ctx, t.Images)
	return nil
}

func (s *Storage) enqueueImageCleanup(ctx context.Context, images []domain.Image) {
	for _, img := range images {
		msg, err := json.Marshal(cleanupMessage{URL: img.URL})
		if err != nil {
			continue
		}
		if _, err := s.cleanupQueue.EnqueueMessage(ctx, string(msg), nil); err != nil {
			s.logger.Errorf("enqueue image cleanup for %s: %v", img.URL, err)
		}
	}
}


func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}
