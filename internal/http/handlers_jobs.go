package http

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"atelier/internal/config"
	"atelier/internal/model"
	"atelier/internal/notify"
	"atelier/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// jobsSubmitHandler accepts a multipart batch of garment images and
// queues them for description. Admission errors reject the request
// synchronously; no job is created.
func jobsSubmitHandler(c *fiber.Ctx) error {
	cfg := c.Locals("config").(*config.Config)
	svc := c.Locals("service").(*services.JobService)

	if c.Locals("executor_err") != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "EXECUTOR_UNCONFIGURED",
			Error:   "the vision service is not configured on the server",
		})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "INVALID_UPLOAD",
			Error:   "unable to process upload",
		})
	}

	headers := form.File["images"]
	if len(headers) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "NO_FILES",
			Error:   "please attach at least one image",
		})
	}
	if len(headers) > cfg.Uploads.MaxBatchSize {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BATCH_TOO_LARGE",
			Error:   fmt.Sprintf("you can upload up to %d images per batch", cfg.Uploads.MaxBatchSize),
		})
	}

	maxBytes := int64(cfg.Uploads.MaxImageMB) * 1024 * 1024
	files := make([]model.FileTask, 0, len(headers))
	for _, h := range headers {
		if h.Size > maxBytes {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "FILE_TOO_LARGE",
				Error:   fmt.Sprintf("%s exceeds the %d MB per-image limit", h.Filename, cfg.Uploads.MaxImageMB),
			})
		}

		f, err := h.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "INVALID_UPLOAD",
				Error:   "unable to process upload",
			})
		}
		payload, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "INVALID_UPLOAD",
				Error:   "unable to process upload",
			})
		}

		mime := h.Header.Get("Content-Type")
		if mime == "" {
			mime = stdhttp.DetectContentType(payload)
		}
		if !strings.HasPrefix(mime, "image/") {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "UNSUPPORTED_TYPE",
				Error:   "only image uploads are supported",
			})
		}

		files = append(files, model.FileTask{
			OriginalName: h.Filename,
			Size:         h.Size,
			MimeType:     mime,
			Payload:      payload,
		})
	}

	snap, err := svc.Submit(files)
	if err != nil {
		if errors.Is(err, services.ErrNoFiles) {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "NO_FILES",
				Error:   "please attach at least one image",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "SUBMIT_FAILED",
			Error:   "something went wrong",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitJobResponse{
		Success: true,
		JobID:   snap.ID.String(),
		Total:   snap.Total,
		Status:  string(snap.Status),
	})
}

// jobStatusHandler returns the job's current snapshot.
func jobStatusHandler(c *fiber.Ctx) error {
	svc := c.Locals("service").(*services.JobService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return jobNotFound(c)
	}
	snap, ok := svc.Snapshot(id)
	if !ok {
		return jobNotFound(c)
	}
	return c.JSON(JobResponse{Success: true, Job: &snap})
}

// jobStreamHandler pushes snapshot events to the client over SSE: one
// immediately on connect, then one per job mutation, until the job
// reaches a terminal status or the client disconnects.
func jobStreamHandler(c *fiber.Ctx) error {
	svc := c.Locals("service").(*services.JobService)
	bus := c.Locals("bus").(*notify.Bus)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return jobNotFound(c)
	}
	snap, ok := svc.Snapshot(id)
	if !ok {
		return jobNotFound(c)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		if err := writeSnapshotEvent(w, snap); err != nil || snap.Status.Terminal() {
			return
		}

		// Coalesce to the latest snapshot so a slow client never
		// blocks the publisher.
		updates := make(chan model.Snapshot, 1)
		unsubscribe := bus.Subscribe(id, func(s model.Snapshot) {
			for {
				select {
				case updates <- s:
					return
				default:
					select {
					case <-updates:
					default:
					}
				}
			}
		})
		defer unsubscribe()

		// The job may have finalized between the initial snapshot and
		// the subscription; re-check so the terminal event is never lost.
		if cur, ok := svc.Snapshot(id); ok && cur.Status.Terminal() {
			writeSnapshotEvent(w, cur)
			return
		}

		keepalive := time.NewTicker(15 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case s := <-updates:
				if err := writeSnapshotEvent(w, s); err != nil {
					return
				}
				if s.Status.Terminal() {
					return
				}
			case <-keepalive.C:
				// Comment frame; also surfaces client disconnects.
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

// jobExportHandler returns the finalized workbook bytes. Repeated
// calls return the same bytes; before finalization the export is a
// conflict, not a miss.
func jobExportHandler(c *fiber.Ctx) error {
	svc := c.Locals("service").(*services.JobService)

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return jobNotFound(c)
	}
	if _, ok := svc.Snapshot(id); !ok {
		return jobNotFound(c)
	}

	rep, ok := svc.Export(id)
	if !ok {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Success: false,
			Code:    "EXPORT_NOT_READY",
			Error:   "export not ready yet",
		})
	}

	filename := rep.Filename
	if filename == "" {
		filename = id.String() + ".xlsx"
	}
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(rep.Bytes)
}

func jobNotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
		Success: false,
		Code:    "JOB_NOT_FOUND",
		Error:   "job not found",
	})
}

func writeSnapshotEvent(w *bufio.Writer, snap model.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
