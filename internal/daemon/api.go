package daemon

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/notify"
	"github.com/o324/o324/internal/prefix"
	"github.com/o324/o324/internal/tasks"
)

const defaultListLimit = 10

// StartRequest is the body of POST /v1/current/start.
type StartRequest struct {
	TaskName string   `json:"task_name" binding:"required"`
	Project  *string  `json:"project"`
	Tags     []string `json:"tags"`
	At       int64    `json:"at" binding:"gte=0"`
}

// StopRequest is the optional body of POST /v1/current/stop.
type StopRequest struct {
	At int64 `json:"at" binding:"gte=0"`
}

// TaskResponse carries one task and its display prefix.
type TaskResponse struct {
	Task   *tasks.Task `json:"task"`
	Prefix string      `json:"prefix,omitempty"`
}

// SyncResponse summarizes a sync.
type SyncResponse struct {
	UpToDate    bool               `json:"up_to_date"`
	FastForward bool               `json:"fast_forward"`
	Replayed    int                `json:"replayed"`
	Skipped     int                `json:"skipped"`
	Head        string             `json:"head"`
	Changed     []string           `json:"changed"`
	Conflicts   []string           `json:"conflicts"`
	Actions     []tasks.TaskAction `json:"actions"`
}

func (d *Daemon) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithWriter(d.config.Logger.Writer()), gin.Recovery())

	v1 := router.Group("/v1")
	{
		v1.GET("/health", d.handleHealth)

		v1.GET("/tasks", d.handleListTasks)
		v1.GET("/tasks/:ref", d.handleGetTask)
		v1.PUT("/tasks", d.handleUpsertTask)
		v1.PATCH("/tasks/:ref", d.handleEditTask)
		v1.DELETE("/tasks/:ref", d.handleDeleteTask)

		v1.GET("/current", d.handleCurrent)
		v1.POST("/current/start", d.handleStart)
		v1.POST("/current/stop", d.handleStop)
		v1.POST("/current/cancel", d.handleCancel)

		v1.POST("/sync", d.handleSync)

		v1.POST("/events", d.handleEvents)
		v1.GET("/events/ws", gin.WrapH(d.hub))
	}
	return router
}

// statusFor maps store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, docdb.ErrNotFound),
		errors.Is(err, tasks.ErrNoCurrentTask):
		return http.StatusNotFound
	case errors.Is(err, prefix.ErrAmbiguous),
		errors.Is(err, tasks.ErrInvariantViolation),
		docdb.IsLocked(err):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrInvalidTask),
		docdb.IsCorrupted(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var amb *prefix.AmbiguousError
	if errors.As(err, &amb) {
		body["candidates"] = amb.Candidates
	}
	c.JSON(statusFor(err), body)
}

func invalid(c *gin.Context, err error) {
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
}

func (d *Daemon) taskResponse(t *tasks.Task) TaskResponse {
	if t == nil {
		return TaskResponse{}
	}
	return TaskResponse{Task: t, Prefix: d.store.ShortestPrefix(t.ID)}
}

func (d *Daemon) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": d.hub.ClientCount(),
		"tasks":   d.store.Cache().Len(),
	})
}

func (d *Daemon) handleListTasks(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		invalid(c, errors.New("offset must be a non-negative integer"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if err != nil || limit < 0 {
		invalid(c, errors.New("limit must be a non-negative integer"))
		return
	}

	list, err := d.store.ListLastTasks(offset, limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (d *Daemon) handleGetTask(c *gin.Context) {
	id, err := d.store.Resolve(c.Param("ref"))
	if err != nil {
		fail(c, err)
		return
	}
	task, err := d.store.GetTask(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d.taskResponse(&task))
}

func (d *Daemon) handleUpsertTask(c *gin.Context) {
	var task tasks.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		invalid(c, err)
		return
	}
	actions, err := d.store.UpsertTask(c.Request.Context(), task)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (d *Daemon) handleEditTask(c *gin.Context) {
	var update tasks.TaskUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		invalid(c, err)
		return
	}
	task, actions, err := d.store.EditTask(c.Request.Context(), c.Param("ref"), update)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "actions": actions})
}

func (d *Daemon) handleDeleteTask(c *gin.Context) {
	id, err := d.store.Resolve(c.Param("ref"))
	if err != nil {
		fail(c, err)
		return
	}
	actions, err := d.store.DeleteTask(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

func (d *Daemon) handleCurrent(c *gin.Context) {
	task, err := d.store.CurrentTask()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d.taskResponse(task))
}

func (d *Daemon) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	task, actions, err := d.store.StartTask(c.Request.Context(), tasks.StartOptions{
		Name:    req.TaskName,
		Project: req.Project,
		Tags:    req.Tags,
		At:      req.At,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task, "actions": actions})
}

func (d *Daemon) handleStop(c *gin.Context) {
	var req StopRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			invalid(c, err)
			return
		}
	}
	result, actions, err := d.store.StopCurrentTask(c.Request.Context(), req.At)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nothing_to_do": result.NothingToDo, "task": result.Task, "actions": actions})
}

func (d *Daemon) handleCancel(c *gin.Context) {
	result, actions, err := d.store.CancelCurrentTask(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nothing_to_do": result.NothingToDo, "task": result.Task, "actions": actions})
}

func (d *Daemon) handleSync(c *gin.Context) {
	result, err := d.store.Sync(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	r := result.Report
	resp := SyncResponse{
		UpToDate:    r.UpToDate,
		FastForward: r.FastForward,
		Replayed:    r.Replayed,
		Skipped:     r.Skipped,
		Head:        r.Head,
		Changed:     r.Changed,
		Conflicts:   []string{},
		Actions:     result.Actions,
	}
	for _, conflict := range r.Conflicts {
		resp.Conflicts = append(resp.Conflicts, conflict.Key)
	}
	c.JSON(http.StatusOK, resp)
}

// handleEvents rebroadcasts actions committed by other processes.
func (d *Daemon) handleEvents(c *gin.Context) {
	var req notify.EventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, err)
		return
	}
	d.hub.Notify(req.Actions)
	c.Status(http.StatusAccepted)
}
