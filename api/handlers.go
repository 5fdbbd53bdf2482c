package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/madpsy/aisguard/ingest"
	"github.com/madpsy/aisguard/sources"
	"github.com/madpsy/aisguard/vessel"
)

const statsCacheKey = "stats"

// ── Sources ──

func (s *Server) handleListSources(c *gin.Context) {
	list, err := s.sources.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sources": list})
}

func (s *Server) handleCreateSource(c *gin.Context) {
	var req sources.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	src, err := s.sources.Create(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, src)
}

func (s *Server) handleGetSource(c *gin.Context) {
	src, err := s.sources.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{"source": src}
	if st, ok := s.ingest.Stats(src.ID); ok {
		resp["stats"] = st
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteSource(c *gin.Context) {
	cascade := false
	if v := c.Query("cascade"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cascade parameter"})
			return
		}
		cascade = b
	}
	if err := s.sources.Delete(c.Request.Context(), c.Param("id"), cascade); err != nil {
		fail(c, err)
		return
	}
	s.invalidateStats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id"), "cascade": cascade})
}

type transitionFunc func(*sources.Manager, context.Context, string) (*vessel.Source, error)

func (s *Server) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		src, err := fn(s.sources, c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, src)
	}
}

type limitsRequest struct {
	SpoofLimitKm         *float64 `json:"spoof_limit_km"`
	MessageLimit         *int     `json:"message_limit"`
	TargetLimit          *int     `json:"target_limit"`
	KeepNonVesselTargets *bool    `json:"keep_non_vessel_targets"`
}

func (s *Server) handleSetLimits(c *gin.Context) {
	var req limitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx, id := c.Request.Context(), c.Param("id")
	var (
		src *vessel.Source
		err error
	)
	if req.SpoofLimitKm != nil {
		if src, err = s.sources.SetSpoofLimit(ctx, id, *req.SpoofLimitKm); err != nil {
			fail(c, err)
			return
		}
	}
	if req.MessageLimit != nil {
		if src, err = s.sources.SetMessageLimit(ctx, id, *req.MessageLimit); err != nil {
			fail(c, err)
			return
		}
	}
	if req.TargetLimit != nil {
		if src, err = s.sources.SetTargetLimit(ctx, id, *req.TargetLimit); err != nil {
			fail(c, err)
			return
		}
	}
	if req.KeepNonVesselTargets != nil {
		if src, err = s.sources.SetKeepNonVessel(ctx, id, *req.KeepNonVesselTargets); err != nil {
			fail(c, err)
			return
		}
	}
	if src == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no limit given"})
		return
	}
	c.JSON(http.StatusOK, src)
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.store.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleTextMessages(c *gin.Context) {
	msgs, err := s.store.TextMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text_messages": msgs})
}

func (s *Server) handleDisableAll(c *gin.Context) {
	n, err := s.sources.DisableAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": n})
}

// handleUpload runs a multipart "file" as a one-shot batch source. Limits
// may be given as form fields.
func (s *Server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	var req sources.CreateRequest
	if req.MessageLimit, err = formInt(c, "message_limit"); err == nil {
		req.TargetLimit, err = formInt(c, "target_limit")
	}
	if err == nil {
		req.SpoofLimitKm, err = formFloat(c, "spoof_limit_km")
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.KeepNonVesselTargets = c.PostForm("keep_non_vessel_targets") == "true"
	req.Config.FilePath = fh.Filename

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	name := c.PostForm("name")
	if name == "" {
		name = fh.Filename
	}
	src, sum, err := s.sources.Upload(c.Request.Context(), name, f, req)
	if err != nil && src == nil {
		fail(c, err)
		return
	}
	s.invalidateStats(c.Request.Context())
	resp := gin.H{"source": src, "summary": sum}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func formInt(c *gin.Context, key string) (int, error) {
	v := c.PostForm(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func formFloat(c *gin.Context, key string) (float64, error) {
	v := c.PostForm(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}

func (s *Server) handleClearData(c *gin.Context) {
	if err := s.ingest.ClearData(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	s.invalidateStats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// ── Statistics ──

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	var stats []ingest.Stats
	if s.cache != nil {
		hit, err := s.cache.Get(ctx, statsCacheKey, &stats)
		if err != nil {
			s.log.Warn("stats cache read failed", "err", err)
		}
		if hit {
			c.JSON(http.StatusOK, gin.H{"stats": stats, "cached": true})
			return
		}
	}
	stats = s.ingest.AllStats()
	if s.cache != nil {
		if err := s.cache.Put(ctx, statsCacheKey, stats); err != nil {
			s.log.Warn("stats cache write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "cached": false})
}

func (s *Server) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, statsCacheKey); err != nil {
		s.log.Warn("stats cache invalidate failed", "err", err)
	}
}

func (s *Server) handleRanges(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ranges": s.ingest.Detector().Ranges()})
}

func (s *Server) handleSerialPorts(c *gin.Context) {
	ports, err := sources.ListSerialPorts()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

// ── Vessels ──

func (s *Server) handleListVessels(c *gin.Context) {
	list, err := s.store.ListVessels(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vessels": list})
}

func parseMMSI(c *gin.Context) (uint32, bool) {
	n, err := strconv.ParseUint(c.Param("mmsi"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mmsi"})
		return 0, false
	}
	return uint32(n), true
}

func (s *Server) handleGetVessel(c *gin.Context) {
	mmsi, ok := parseMMSI(c)
	if !ok {
		return
	}
	v, err := s.store.GetVessel(c.Request.Context(), mmsi)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handlePositions(c *gin.Context) {
	mmsi, ok := parseMMSI(c)
	if !ok {
		return
	}
	// Positions without display coordinates stay internal to validation.
	ps, err := s.store.Positions(c.Request.Context(), mmsi, false)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mmsi": mmsi, "positions": ps})
}

func (s *Server) handleVdo(c *gin.Context) {
	refs, err := s.store.VdoReferences(c.Request.Context(), c.QueryArray("source")...)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"references": refs})
}
