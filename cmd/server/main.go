package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/payme-dheeraj/chat-app-backend/internal/chat"
	"github.com/payme-dheeraj/chat-app-backend/internal/db"
	myMiddleware "github.com/payme-dheeraj/chat-app-backend/internal/middleware"
	"github.com/payme-dheeraj/chat-app-backend/internal/post"
	"github.com/payme-dheeraj/chat-app-backend/internal/user"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("❌ DB_DSN is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// Signup works without a CAPTCHA secret in dev; verification is skipped.
	recaptchaSecret := os.Getenv("RECAPTCHA_SECRET_KEY")

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(dsn)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis (presence store)
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// 4. Initialize User Feature
	userRepo := user.NewRepository(database.Conn)
	captcha := user.NewRecaptchaVerifier(recaptchaSecret)
	presence := user.NewPresence(redisClient)
	userService := user.NewService(userRepo, captcha, presence, jwtSecret)
	userHandler := user.NewHandler(userService)

	// 5. Initialize Chat Feature
	// The room registry is owned here and passed by reference; it is the
	// only shared mutable state in the chat core.
	chatRepo := chat.NewRepository(database.Conn)
	registry := chat.NewRegistry()
	chatHandler := chat.NewHandler(registry, chatRepo)

	// 6. Initialize Posts Feature
	postRepo := post.NewRepository(database.Conn)
	postHandler := post.NewHandler(postRepo)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 7. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/api/users/anonymous", userHandler.Anonymous)
	r.Post("/api/users/signup", userHandler.Signup)
	r.Post("/api/users/login", userHandler.Login)
	r.Get("/api/posts", postHandler.ListPosts)
	r.Get("/api/posts/{id}", postHandler.GetPost)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "index.html")
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Post("/api/users/logout", userHandler.Logout)
		r.Get("/api/users/me", userHandler.Me)
		r.Put("/api/users/me", userHandler.UpdateProfile)
		r.Post("/api/users/password", userHandler.ChangePassword)
		r.Get("/api/users/search", userHandler.SearchUsers)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Get("/api/conversations/{id}", chatHandler.GetConversation)
		r.Get("/api/conversations/{id}/messages", chatHandler.GetMessages)
		r.Post("/api/conversations/{id}/send", chatHandler.SendMessage)

		r.Post("/api/posts", postHandler.CreatePost)
		r.Delete("/api/posts/{id}", postHandler.DeletePost)
		r.Post("/api/posts/{id}/like", postHandler.ToggleLike)
		r.Get("/api/posts/{id}/comments", postHandler.ListComments)
		r.Post("/api/posts/{id}/comments", postHandler.AddComment)
		r.Post("/api/posts/{id}/vote", postHandler.Vote)
		r.Get("/api/posts/mine", postHandler.MyPosts)
	})

	log.Printf("🚀 Server starting on %s", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal(err)
	}
}
