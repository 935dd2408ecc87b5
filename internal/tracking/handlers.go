package tracking

import (
	"errors"

	"github.com/Az1mzhan/bt-ass-3/internal/stream"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service) {
	r.Get("/", func(c *fiber.Ctx) error {
		walks, err := svc.Walks(c.Context(), c.QueryInt("limit", 20))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(walks)
	})

	r.Get("/:stream/summary", func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.Context(), c.Params("stream"))
		if err != nil {
			return walkError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/:stream/samples", func(c *fiber.Ctx) error {
		samples, err := svc.Samples(c.Context(), c.Params("stream"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(samples)
	})

	r.Get("/:stream/gpx", func(c *fiber.Ctx) error {
		samples, err := svc.Samples(c.Context(), c.Params("stream"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if len(samples) == 0 {
			return fiber.NewError(fiber.StatusNotFound, ErrWalkNotFound.Error())
		}
		body, err := stream.TrackGPX(samples)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		return c.Send(body)
	})
}

func walkError(err error) error {
	if errors.Is(err, ErrWalkNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
