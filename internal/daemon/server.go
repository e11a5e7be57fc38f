package daemon

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ryfis/geo-mini/internal/backend"
	"github.com/Ryfis/geo-mini/internal/bus"
	"github.com/Ryfis/geo-mini/internal/geo"
	"github.com/Ryfis/geo-mini/internal/media"
	"github.com/Ryfis/geo-mini/internal/store"
	intsync "github.com/Ryfis/geo-mini/internal/sync"
	"github.com/Ryfis/geo-mini/internal/writer"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API binds to loopback only; browser pages served from anywhere
	// may open the event socket.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServerDeps are the collaborators the HTTP API exposes.
type ServerDeps struct {
	Profile   string
	UserID    string
	DB        *store.DB
	Bus       *bus.Bus
	Engine    *intsync.Engine
	Loader    *intsync.Loader
	Recounter *intsync.Recounter
	Writer    *writer.Writer
	Manager   *backend.Manager
	Storage   *backend.StorageClient
	Resolver  *geo.Resolver
	Logger    *zap.Logger
}

// Server is the loopback HTTP API other local processes (and the web view)
// talk to.
type Server struct {
	deps ServerDeps
	http *http.Server
}

// NewServer builds the gin router and wraps it in an http.Server bound to
// listen.
func NewServer(listen string, deps ServerDeps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{deps: deps}
	s.routes(router)
	s.http = &http.Server{Addr: listen, Handler: router}
	return s
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.deps.Logger.Info("http server starting", zap.String("listen", s.http.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.deps.Logger.Info("http server stopping")
	_ = s.http.Shutdown(ctx)
}

func (s *Server) routes(r *gin.Engine) {
	v1 := r.Group("/v1")

	v1.GET("/status", s.handleStatus)
	v1.GET("/events", s.handleEvents)

	v1.GET("/chats", s.handleListChats)
	v1.GET("/transcripts/:type/:id", s.handleTranscript)
	v1.POST("/messages", s.handleSendMessage)
	v1.POST("/comments", s.handleAddComment)

	v1.GET("/counters", s.handleCounters)
	v1.GET("/markers", s.handleMarkers)
	v1.POST("/posts", s.handleCreatePost)
	v1.GET("/position", s.handlePosition)

	v1.GET("/private-messages", s.handleListPrivateMessages)
	v1.POST("/private-messages", s.handleSendPrivateMessage)
	v1.POST("/private-messages/read", s.handleMarkRead)
	v1.GET("/friendships", s.handleListFriendships)
	v1.POST("/friend-requests", s.handleSendFriendRequest)
	v1.POST("/friend-requests/:id/respond", s.handleRespondFriendRequest)

	v1.GET("/profiles", s.handleSearchProfiles)
	v1.GET("/profiles/:id", s.handleProfile)

	v1.GET("/saved-locations", s.handleListSavedLocations)
	v1.POST("/saved-locations", s.handleSaveLocation)
	v1.DELETE("/saved-locations/:id", s.handleDeleteLocation)

	v1.POST("/uploads", s.handleUpload)
}

func (s *Server) handleStatus(c *gin.Context) {
	channels := map[string]string{}
	if s.deps.Manager != nil {
		for key, st := range s.deps.Manager.States() {
			channels[key] = string(st)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":  s.deps.Profile,
		"user_id":  s.deps.UserID,
		"channels": channels,
	})
}

func (s *Server) handleListChats(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	chats, err := s.deps.DB.ListChats(limit, offset)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func parentScope(c *gin.Context) (store.ParentType, string, bool) {
	pt := store.ParentType(c.Param("type"))
	id := c.Param("id")
	if (pt != store.ParentMessage && pt != store.ParentGroup) || id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid parent scope"})
		return "", "", false
	}
	return pt, id, true
}

// handleTranscript returns the open transcript for a scope, bulk-loading it
// (and registering it with the engine) on first access.
func (s *Server) handleTranscript(c *gin.Context) {
	pt, id, ok := parentScope(c)
	if !ok {
		return
	}

	if t := s.deps.Engine.Transcript(pt, id); t != nil {
		c.JSON(http.StatusOK, gin.H{"messages": t.Entries()})
		return
	}

	view, err := s.deps.Loader.LoadTranscript(c.Request.Context(), pt, id)
	if errors.Is(err, intsync.ErrViewChanged) {
		c.JSON(http.StatusConflict, gin.H{"error": "view changed during load"})
		return
	}
	if err != nil {
		// Backend unreachable: the mirror still has whatever the last
		// successful load or feed echo left behind. Serve that, marked
		// stale, instead of an empty error page.
		msgs, dbErr := s.deps.DB.ListMessages(pt, id, 0)
		if dbErr == nil && len(msgs) > 0 {
			s.deps.Logger.Warn("transcript load failed, serving mirror",
				zap.String("parent_id", id), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"messages": msgs, "stale": true})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":    view.Transcript.Entries(),
		"post":        view.Post,
		"profiles":    view.Profiles,
		"attachments": view.Attachments,
	})
}

type sendMessageRequest struct {
	ParentType string `json:"parent_type" binding:"required"`
	ParentID   string `json:"parent_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
	PhotoURL   string `json:"photo_url"`
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Writer.SendChatMessage(c.Request.Context(),
		store.ParentType(req.ParentType), req.ParentID, req.Content, req.PhotoURL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type addCommentRequest struct {
	ParentType string `json:"parent_type" binding:"required"`
	ParentID   string `json:"parent_id" binding:"required"`
	MessageID  string `json:"message_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req addCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Writer.AddComment(c.Request.Context(),
		store.ParentType(req.ParentType), req.ParentID, req.MessageID, req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleCounters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"unread_messages":  s.deps.Recounter.Value(intsync.CounterUnreadMessages),
		"pending_requests": s.deps.Recounter.Value(intsync.CounterPendingRequests),
	})
}

func (s *Server) handleMarkers(c *gin.Context) {
	markers := s.deps.Engine.Markers()
	if c.Query("min_lat") == "" {
		c.JSON(http.StatusOK, gin.H{"markers": markers.Posts()})
		return
	}
	var b intsync.Bounds
	var err error
	if b.MinLat, err = strconv.ParseFloat(c.Query("min_lat"), 64); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad bounds"})
		return
	}
	b.MaxLat, _ = strconv.ParseFloat(c.Query("max_lat"), 64)
	b.MinLng, _ = strconv.ParseFloat(c.Query("min_lng"), 64)
	b.MaxLng, _ = strconv.ParseFloat(c.Query("max_lng"), 64)

	// refresh=1 re-fetches the region from the backend before answering,
	// for map pans into areas the initial load never covered.
	if c.Query("refresh") == "1" {
		if _, err := s.deps.Loader.LoadMarkers(c.Request.Context(), &b); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"markers": markers.InBounds(b)})
}

type createPostRequest struct {
	Type              string  `json:"type" binding:"required"`
	Title             string  `json:"title" binding:"required"`
	Description       string  `json:"description"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Category          string  `json:"category"`
	AllowAnyoneToPost bool    `json:"allow_anyone_to_post"`
	AllowComments     bool    `json:"allow_comments"`
}

func (s *Server) handleCreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Writer.CreatePost(c.Request.Context(), &store.Post{
		Type:              store.ParentType(req.Type),
		Title:             req.Title,
		Description:       req.Description,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		Category:          req.Category,
		AllowAnyoneToPost: req.AllowAnyoneToPost,
		AllowComments:     req.AllowComments,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handlePosition(c *gin.Context) {
	pos := s.deps.Resolver.Resolve(c.Request.Context())
	c.JSON(http.StatusOK, pos)
}

type sendPrivateMessageRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required"`
	Message    string `json:"message" binding:"required"`
	PhotoURL   string `json:"photo_url"`
}

func (s *Server) handleSendPrivateMessage(c *gin.Context) {
	var req sendPrivateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Writer.SendPrivateMessage(c.Request.Context(), req.ReceiverID, req.Message, req.PhotoURL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleMarkRead(c *gin.Context) {
	var req struct {
		SenderID string `json:"sender_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Writer.MarkConversationRead(c.Request.Context(), req.SenderID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleListPrivateMessages returns the conversation with one peer, both
// directions, oldest first.
func (s *Server) handleListPrivateMessages(c *gin.Context) {
	peer := c.Query("peer_id")
	if peer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id is required"})
		return
	}
	msgs, err := s.deps.Loader.PrivateConversation(c.Request.Context(), s.deps.UserID, peer)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handleListFriendships(c *gin.Context) {
	rows, err := s.deps.Loader.Friendships(c.Request.Context(), s.deps.UserID, c.Query("status"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friendships": rows})
}

func (s *Server) handleSearchProfiles(c *gin.Context) {
	term := c.Query("search")
	if term == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search is required"})
		return
	}
	profiles, err := s.deps.Loader.SearchProfiles(c.Request.Context(), term)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (s *Server) handleSendFriendRequest(c *gin.Context) {
	var req struct {
		FriendID string `json:"friend_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Writer.SendFriendRequest(c.Request.Context(), req.FriendID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleRespondFriendRequest(c *gin.Context) {
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Writer.RespondFriendRequest(c.Request.Context(), c.Param("id"), req.Accept); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleProfile(c *gin.Context) {
	p, err := s.deps.Loader.Profile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleListSavedLocations(c *gin.Context) {
	locs, err := s.deps.DB.ListSavedLocations(s.deps.UserID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"locations": locs})
}

func (s *Server) handleSaveLocation(c *gin.Context) {
	var req struct {
		Name      string  `json:"name" binding:"required"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := s.deps.Writer.SaveLocation(c.Request.Context(), req.Name, req.Latitude, req.Longitude)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleDeleteLocation(c *gin.Context) {
	if err := s.deps.Writer.DeleteLocation(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleUpload re-encodes the posted photo into its thumbnail, uploads both
// to object storage and returns the public URLs.
func (s *Server) handleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, 20<<20))
	if err != nil {
		s.fail(c, err)
		return
	}

	kind := c.DefaultPostForm("kind", "post")
	var thumb []byte
	switch kind {
	case "avatar":
		thumb, err = media.AvatarThumbnail(data)
	case "post":
		thumb, err = media.PostThumbnail(data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be avatar or post"})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	bucket := backend.BucketPhotos
	key := backend.ObjectKey(s.deps.UserID, header.Filename)
	fileURL, err := s.deps.Storage.Upload(ctx, bucket, key, header.Header.Get("Content-Type"), bytes.NewReader(data))
	if err != nil {
		s.fail(c, err)
		return
	}
	thumbURL, err := s.deps.Storage.Upload(ctx, bucket, thumbKey(key), "image/jpeg", bytes.NewReader(thumb))
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"file_url":      fileURL,
		"thumbnail_url": thumbURL,
		"file_size":     len(data),
	})
}

func thumbKey(key string) string {
	return key + "_thumb.jpg"
}

// fail maps backend errors onto local API responses.
func (s *Server) fail(c *gin.Context, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		s.deps.Logger.Warn("backend request failed", zap.Int("status", apiErr.Status), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "backend_status": apiErr.Status})
		return
	}
	s.deps.Logger.Error("request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// handleEvents upgrades to a websocket and fans out reconciled bus events
// as JSON frames until the client hangs up.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	namespaces := []string{"chat.", "map.", "counter.", "feed.status"}
	type sub struct {
		ch    <-chan bus.Event
		unsub func()
	}
	var subs []sub
	merged := make(chan bus.Event, 256)
	done := make(chan struct{})
	defer close(done)

	for _, ns := range namespaces {
		ch, unsub := s.deps.Bus.Subscribe(ns, 64)
		subs = append(subs, sub{ch: ch, unsub: unsub})
		go func(ch <-chan bus.Event) {
			for {
				select {
				case evt := <-ch:
					select {
					case merged <- evt:
					case <-done:
						return
					}
				case <-done:
					return
				}
			}
		}(ch)
	}
	defer func() {
		for _, s := range subs {
			s.unsub()
		}
	}()

	// Reader goroutine just detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-merged:
			frame := gin.H{
				"kind":      evt.Kind,
				"timestamp": evt.Timestamp.UnixMilli(),
				"payload":   evt.Payload,
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
