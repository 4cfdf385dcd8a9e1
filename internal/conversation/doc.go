// Package conversation implements the direct-message use cases.
//
// # Service
//
// The Service ties together the message store, the cache layer, the image
// uploader, and the presence router:
//
//	svc := conversation.New(store, layer, router, uploader, logger)
//
// Operations:
//
//   - ListOthers(ctx, requesterID): everyone except the requester, cache-first
//   - FetchConversation(ctx, viewerID, partnerID): full history, then mark seen
//   - Send(ctx, req): persist, invalidate, deliver to both participants
//   - DeleteForEveryone(ctx, requesterID, messageID): logical delete by the sender
//   - UpdateProfilePic(ctx, userID, dataURI): upload and refresh user lists
//
// Every write follows the same order. The store write happens first, then the
// affected cache entries are invalidated, then the presence router fans the
// event out. Fan-out never fails the operation; an offline participant sees
// the change on their next fetch.
//
// # Errors
//
// Rejections wrap one of ErrValidation, ErrNotFound, ErrForbidden or ErrPolicy
// in an *Error whose Message is safe to return to the client. Store, cache,
// and upload failures wrap ErrDependency and carry no client message.
// ErrNoUsers is returned bare when the requester is the only user.
package conversation
