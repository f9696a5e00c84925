package github

// repoBatchQuery asks for a batch of repositories by node id in one shot.
// rateLimit rides along so every response carries the current budget
const repoBatchQuery = `query($ids: [ID!]!) {
  nodes(ids: $ids) {
    ... on Repository {
      id
      name
      nameWithOwner
      homepageUrl
      url
      createdAt
      updatedAt
      pushedAt
      shortDescriptionHTML
      description
      isArchived
      isPrivate
      isFork
      isEmpty
      isDisabled
      isLocked
      isTemplate
      stargazerCount
      forkCount
      diskUsage
      owner {
        login
      }
      repositoryTopics(first: 20) {
        nodes {
          topic {
            name
          }
        }
      }
      primaryLanguage {
        name
      }
      licenseInfo {
        name
      }
    }
  }
  rateLimit {
    cost
    remaining
    resetAt
  }
}`
