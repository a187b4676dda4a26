package router

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dfft546/gproxy/internal/engine"
	"github.com/dfft546/gproxy/internal/stream"
)

// writeResult renders an engine.Result to the client: a buffered JSON
// body, or an SSE stream with the headers and keep-alive ticker spec
// §4.7/§6.1 require.
func writeResult(c *gin.Context, res engine.Result, err error) {
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if !res.IsStream {
		for _, h := range res.Headers {
			if hopByHopHeaders[strings.ToLower(h.Key)] {
				continue
			}
			c.Writer.Header().Set(h.Key, h.Value)
		}
		status := res.Status
		if status == 0 {
			status = http.StatusOK
		}
		c.Data(status, "application/json", res.Body)
		return
	}

	if res.StreamNDJSON {
		c.Header("Content-Type", "application/x-ndjson")
	} else {
		c.Header("Content-Type", "text/event-stream")
		c.Header("X-Accel-Buffering", "no")
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return
	}

	// NDJSON downstreams get no SSE comment keep-alive: a bare ": ..."
	// line isn't a valid NDJSON record, and spec §4.7's idle-ping is
	// scoped to "downstreams speaking SSE only".
	if res.StreamNDJSON {
		for {
			select {
			case <-c.Request.Context().Done():
				return
			case chunk, open := <-res.StreamChunks:
				if !open {
					flusher.Flush()
					return
				}
				_, _ = c.Writer.Write(chunk)
				flusher.Flush()
			}
		}
	}

	keepAlive := stream.NewKeepAlive()
	defer keepAlive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case chunk, open := <-res.StreamChunks:
			if !open {
				flusher.Flush()
				return
			}
			_, _ = c.Writer.Write(chunk)
			flusher.Flush()
			keepAlive.Reset()
		case <-keepAlive.C():
			_, _ = c.Writer.Write([]byte(stream.KeepAliveComment))
			flusher.Flush()
		}
	}
}

func writeEngineError(c *gin.Context, err error) {
	if engErr, ok := err.(*engine.Error); ok {
		c.JSON(engErr.Status, gin.H{"error": gin.H{"kind": engErr.Kind, "code": engErr.Code, "message": engErr.Detail}})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "message": err.Error()}})
}

// readBody fully reads and closes the request body.
func readBody(c *gin.Context) []byte {
	if c.Request.Body == nil {
		return nil
	}
	defer c.Request.Body.Close()
	body, _ := io.ReadAll(c.Request.Body)
	return body
}
