package contract

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

type artifactRequest struct {
	ContractName string `json:"contractName"`
}

func RegisterRoutes(r fiber.Router, store Store, log zerolog.Logger) {
	r.Post("/contract", func(c *fiber.Ctx) error {
		var req artifactRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
		}
		if req.ContractName == "" {
			return fiber.NewError(fiber.StatusBadRequest, "contractName required")
		}

		artifact, err := store.Artifact(c.Context(), req.ContractName)
		switch {
		case errors.Is(err, ErrInvalidName):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.Is(err, ErrArtifactNotFound):
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		case err != nil:
			log.Error().Err(err).Str("contract", req.ContractName).Msg("load artifact")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load artifact")
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(artifact)
	})
}
