package handler

import (
	"github.com/labstack/echo/v4"
)

// Routes mounts the API under /api. auth validates the bearer token and
// tenant resolves the active tenant for tenant-owned resources.
func (h *Handler) Routes(e *echo.Echo, auth, tenant echo.MiddlewareFunc) {
	api := e.Group("/api")

	// Token routes - no authentication required
	api.POST("/token", h.Token)
	api.POST("/token/refresh", h.RefreshToken)
	api.POST("/token/verify", h.VerifyToken)
	api.POST("/users/register", h.Register)

	// User and approval management - authenticated, no tenant context
	users := api.Group("/users", auth)
	users.GET("/me", h.Me)
	users.POST("/change-password", h.ChangePassword)
	users.GET("/approvals", h.ListApprovals)
	users.POST("/approvals", h.OpenApproval)
	users.POST("/approvals/approve_user", h.ApproveUser)
	users.GET("/approvals/:id", h.GetApproval)

	// Tenant discovery and administration - authenticated, no tenant context
	tenants := api.Group("/tenants", auth)
	tenants.GET("", h.ListTenants)
	tenants.GET("/me", h.MyTenants)
	tenants.POST("", h.CreateTenant)
	tenants.POST("/:id/memberships", h.AddMembership)
	tenants.DELETE("/:id/memberships/:user_id", h.DisableMembership)

	// Tenant-owned resources - require a resolved tenant context
	scoped := api.Group("", auth, tenant)

	clients := scoped.Group("/clients")
	clients.GET("", h.ListClients)
	clients.POST("", h.CreateClient)
	clients.GET("/import-external", h.ImportExternalClients)
	clients.POST("/push-results", h.PushClientResults)
	clients.GET("/:id", h.GetClient)
	clients.PUT("/:id", h.UpdateClient)
	clients.PATCH("/:id", h.UpdateClient)
	clients.DELETE("/:id", h.DeleteClient)

	docs := scoped.Group("/kyc-documents")
	docs.GET("", h.ListDocuments)
	docs.POST("", h.UploadDocument)
	docs.GET("/:id", h.GetDocument)
	docs.GET("/:id/download", h.DownloadDocument)
	docs.DELETE("/:id", h.DeleteDocument)

	categories := scoped.Group("/categories")
	categories.GET("", h.ListCategories)
	categories.POST("", h.CreateCategory)
	categories.GET("/:id", h.GetCategory)
	categories.PUT("/:id", h.UpdateCategory)
	categories.PATCH("/:id", h.UpdateCategory)
	categories.DELETE("/:id", h.DeleteCategory)

	questions := scoped.Group("/questions")
	questions.GET("", h.ListQuestions)
	questions.POST("", h.CreateQuestion)
	questions.GET("/:id", h.GetQuestion)
	questions.PUT("/:id", h.UpdateQuestion)
	questions.PATCH("/:id", h.UpdateQuestion)
	questions.DELETE("/:id", h.DeleteQuestion)

	answers := scoped.Group("/answers")
	answers.GET("", h.ListAnswers)
	answers.POST("", h.CreateAnswer)
	answers.POST("/bulk", h.BulkCreateAnswers)
	answers.POST("/replace", h.ReplaceAnswers)
	answers.GET("/:id", h.GetAnswer)
	answers.PUT("/:id", h.UpdateAnswer)
	answers.PATCH("/:id", h.UpdateAnswer)
	answers.DELETE("/:id", h.DeleteAnswer)

	assessments := scoped.Group("/assessments")
	assessments.GET("", h.ListAssessments)
	assessments.POST("", h.CreateAssessment)
	assessments.GET("/:id", h.GetAssessment)
	assessments.PUT("/:id", h.UpdateAssessment)
	assessments.PATCH("/:id", h.UpdateAssessment)
	assessments.DELETE("/:id", h.DeleteAssessment)
	assessments.POST("/:id/push-external", h.PushAssessment)

	reports := scoped.Group("/reports")
	reports.GET("/monthly", h.MonthlyReport)
	reports.GET("/yearly", h.YearlyReport)
}
