package stream

import (
	"bufio"
	"fmt"
	"time"

	"github.com/Az1mzhan/bt-ass-3/internal/walk"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/tkrajina/gpxgo/gpx"
	"github.com/valyala/fasthttp"
)

var heartbeatInterval = 15 * time.Second

type HistorySource interface {
	History() []walk.Sample
}

func RegisterRoutes(app fiber.Router, hub *Hub, history HistorySource) {
	app.Get("/stream-distance", sseHandler(hub))

	r := app.Group("/stream")
	r.Get("/geo", sseHandler(hub))
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		client := hub.Register()
		defer hub.Unregister(client)

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				return
			case msg, ok := <-client.Send:
				if !ok {
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, msg.Payload); err != nil {
					return
				}
			}
		}
	}))

	app.Get("/chart-info", func(c *fiber.Ctx) error {
		if history == nil {
			return c.JSON([]walk.Sample{})
		}
		samples := history.History()
		if samples == nil {
			samples = []walk.Sample{}
		}
		return c.JSON(samples)
	})

	app.Get("/chart-info.gpx", func(c *fiber.Ctx) error {
		var samples []walk.Sample
		if history != nil {
			samples = history.History()
		}
		body, err := TrackGPX(samples)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/gpx+xml")
		return c.Send(body)
	})
}

func sseHandler(hub *Hub) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			client := hub.Register()
			defer hub.Unregister(client)

			heartbeat := time.NewTicker(heartbeatInterval)
			defer heartbeat.Stop()

			if _, err := w.WriteString(": connected\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case msg, ok := <-client.Send:
					if !ok {
						return
					}
					if err := writeEvent(w, msg); err != nil {
						return
					}
				case <-heartbeat.C:
					if _, err := w.WriteString(": ping\n\n"); err != nil {
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
}

func writeEvent(w *bufio.Writer, msg Message) error {
	if _, err := fmt.Fprintf(w, "id: %s:%d\ndata: %s\n\n", msg.Stream, msg.Seq, msg.Payload); err != nil {
		return err
	}
	return w.Flush()
}

func TrackGPX(samples []walk.Sample) ([]byte, error) {
	segment := gpx.GPXTrackSegment{}
	for _, s := range samples {
		segment.Points = append(segment.Points, gpx.GPXPoint{
			Point: gpx.Point{
				Latitude:  s.Coords.Latitude,
				Longitude: s.Coords.Longitude,
			},
			Timestamp: s.Time,
		})
	}

	doc := gpx.GPX{
		Version: "1.1",
		Creator: "bt-ass-3",
		Tracks: []gpx.GPXTrack{{
			Name:     "simulated walk",
			Segments: []gpx.GPXTrackSegment{segment},
		}},
	}
	return doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}
